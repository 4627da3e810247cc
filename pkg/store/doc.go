// Package store adapts a PostgreSQL database to the pooled, retrying
// execution model of packages pool and retry.
//
// A Backend owns three things: the sqlx database handle, a pool of dedicated
// connections sized to the configured capacity, and an executor that runs
// queries on borrowed connections. Database errors are classified by SQLSTATE
// so only connection and availability faults are retried:
//
//	backend, err := store.Connect(ctx, cfg, retry.PolicyForEnvironment(env), logger)
//	if err != nil {
//		return err
//	}
//	defer backend.Close(ctx)
//
//	records := store.NewRecords(backend.Exec)
//	rec, err := records.Get(ctx, "user-1", "article", "42")
//
// Both the lib/pq ("postgres") and pgx ("pgx") drivers are registered.
package store
