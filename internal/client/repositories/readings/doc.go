// Package readings stores glucose readings and data-quality events in the
// local SQLite database.
//
// # Data Model
//
// A reading is keyed by (user_id, ts, source) with ts in unix milliseconds,
// so the same instant may be stored once per source. Readings are never
// updated: InsertIfAbsent ignores a second write of the same key. Rejected
// readings are kept as data-quality events for audit.
//
// # Concurrency
//
// SQLiteRepository works over dbx.DBTX, so the same code runs on *sql.DB
// for reads and on the *sql.Tx handed out by the transaction manager for
// writes.
//
// Typical Usage
//
//	err := core.Save(ctx, func(ctx context.Context, tx *txn.Tx) error {
//		repo := readings.NewSQLiteRepository(tx.DB())
//		_, err := repo.InsertIfAbsent(ctx, r)
//		return err
//	})
package readings
