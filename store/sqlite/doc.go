// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. Suitable for embedded and edge
// deployments, CLI tools, and standalone applications.
//
//	store, err := sqlite.Open(ctx, "file:infinitic.db?_pragma=busy_timeout(5000)")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//	store.Migrate(ctx)
//
// A store built with New does not own its *sql.DB and never closes it.
package sqlite
