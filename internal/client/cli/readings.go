package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/client/reconcile"
)

const defaultHours = 3

// Readings fetches both feeds for the last hours (3 by default) and prints
// the reconciled series.
func (a *App) Readings(ctx context.Context, args []string) error {
	hours := defaultHours
	if len(args) > 0 {
		h, err := strconv.Atoi(args[0])
		if err != nil || h <= 0 {
			a.printf("Usage: readings [hours]\n")
			return nil
		}
		hours = h
	}

	s, err := a.engine.Fetch(ctx, a.cfg.UserID, models.LastHours(a.now.Now(), hours))
	if err != nil {
		return err
	}
	a.printSeries(s)
	return nil
}

func (a *App) printSeries(s reconcile.Series) {
	header := fmt.Sprintf("%s, %d points", s.Mode, len(s.Points))
	if s.Stale {
		header += ", stale"
	}
	if n := s.Disagreements(); n > 0 {
		header += fmt.Sprintf(", %d disagreements", n)
	}
	a.printf("%s\n", header)

	srcs := make([]string, 0, len(s.Errors))
	for src := range s.Errors {
		srcs = append(srcs, string(src))
	}
	sort.Strings(srcs)
	for _, src := range srcs {
		a.printf("  %s unavailable: %v\n", src, s.Errors[models.Source(src)])
	}

	for _, p := range s.Points {
		if p.GapBefore {
			a.printf("  ---- gap ----\n")
		}
		var flags []string
		if p.Disagreement {
			flags = append(flags, "disagrees")
		}
		a.printf("  %s %3d %-14s %-8s %s\n", p.Timestamp.Local().Format("01-02 15:04"), p.Value, p.Trend, p.Source, strings.Join(flags, " "))
	}
	if n := len(s.Rejected); n > 0 {
		a.printf("  %d readings rejected\n", n)
	}
	if p, ok := s.Latest(); ok {
		a.printf("Latest: %d mg/dL %s at %s\n", p.Value, p.Trend, p.Timestamp.Local().Format("15:04"))
	}
}
