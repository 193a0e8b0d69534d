// Package models defines the records stored by the sync server.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
)

// Category is a kind of memory record.
type Category string

var Categories = []Category{"facts", "summaries", "preferences", "patterns"}

func (c Category) Valid() bool {
	for _, x := range Categories {
		if x == c {
			return true
		}
	}
	return false
}

// Path is the endpoint suffix of c: "facts" is served at /syncFacts.
func (c Category) Path() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// Record is one memory record as exchanged with clients.
type Record struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Category       Category        `json:"category"`
	LastModifiedAt time.Time       `json:"lastModifiedAt"`
	Payload        json.RawMessage `json:"payload"`
	Deleted        bool            `json:"deleted,omitempty"`
}

func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return common.E(common.KindValidation, "record", fmt.Errorf("missing id"))
	case r.UserID == "":
		return common.E(common.KindValidation, "record", fmt.Errorf("%s: missing user id", r.ID))
	case !r.Category.Valid():
		return common.E(common.KindValidation, "record", fmt.Errorf("%s: unknown category %q", r.ID, r.Category))
	case r.LastModifiedAt.IsZero():
		return common.E(common.KindValidation, "record", fmt.Errorf("%s: missing lastModifiedAt", r.ID))
	case len(r.Payload) > 0 && !json.Valid(r.Payload):
		return common.E(common.KindValidation, "record", fmt.Errorf("%s: payload is not valid JSON", r.ID))
	}
	return nil
}
