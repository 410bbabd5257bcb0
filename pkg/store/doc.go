/*
Package store keeps EJS template sources in a SQLite database.

A Store satisfies ejs.FileReader, so an engine can compile templates,
includes and layouts straight from the database:

	st, _ := store.New(db)
	e := ejs.New(ejs.WithReader(st), ejs.WithResolver(ejs.SlashResolver{}))

The package does not import a driver. Programs pick one, either
modernc.org/sqlite or github.com/mattn/go-sqlite3.
*/
package store
