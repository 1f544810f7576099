// Command dumpload imports Open Library works and authors dumps into a
// relational store and answers exact-key lookups against it.
//
//	dumpload works --dump data/dumps/ol_dump_works.txt --db data/database/openlibrary.sqlite3
//	dumpload authors --dump data/dumps/ol_dump_authors.txt
//	dumpload lookup work "The Hobbit"
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// config selects the store kind; every backend is compiled in.
	_ "dumpload/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
