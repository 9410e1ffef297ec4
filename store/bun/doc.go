// Package bunstore implements store.Store using the Bun ORM with the
// PostgreSQL dialect. Structured job fields are stored as JSONB columns
// through the model's struct tags.
//
// The caller owns the *bun.DB lifecycle and bunstore never closes it:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
