// Package store names the persistence contract the orchestrator runs on.
//
// Job records are defined by [job.Store]; [Store] adds Migrate, Ping and
// Close. Backends live in subpackages:
//
//	store/memory    process-local maps, the default for development
//	store/postgres  pgx/v5 with embedded SQL migrations
//	store/bun       bun ORM over pgdriver
//	store/mongo     mongo-driver v2, one document per job
//	store/redis     go-redis v9, JSON values with optimistic updates
//	store/etcd      etcd v3, guarded by compare-and-swap transactions
//
// All of them refuse to update a job that is already completed, failed
// or cancelled, returning moira.ErrInvalidState, so a late writer cannot
// resurrect a finished job. store/storetest holds the shared suite each
// backend runs against itself.
//
// A server opens one backend, migrates it, and hands it to the
// orchestrator, which closes it on Stop:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil {
//	    return err
//	}
//	if err := st.Migrate(ctx); err != nil {
//	    return err
//	}
//	o, err := moira.New(moira.WithStore(st))
package store
