// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. The following kinds become
// available:
//
//   - "sqlite"   (dumpload/internal/storage/sqlite)
//   - "postgres" (dumpload/internal/storage/postgres)
//   - "mssql"    (dumpload/internal/storage/mssql)
//   - "mysql"    (dumpload/internal/storage/mysql)
//   - "memory"   (dumpload/internal/storage/memory)
//
// Typical usage:
//
//	import _ "dumpload/internal/storage/all"
//
//	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: "works.db"})
//	if err != nil {
//	    // handle error
//	}
//	defer repo.Close()
//
// A binary that needs only a subset of backends can import those packages
// directly instead.
package all

import (
	_ "dumpload/internal/storage/memory"
	_ "dumpload/internal/storage/mssql"
	_ "dumpload/internal/storage/mysql"
	_ "dumpload/internal/storage/postgres"
	_ "dumpload/internal/storage/sqlite"
)
