// Package sqlitehost loads the query bridge into mattn/go-sqlite3
// connections.
//
// Register installs a database/sql driver whose connect hook runs
// querybridge.Load against the connection. Open a database file inside a
// session directory and the session's stores appear as tables next to it.
//
// Built with the sqlite_vtable tag, each store is a virtual table reading
// records straight out of the mapped store. Without it the rows are copied
// into TEMP tables when the connection opens.
package sqlitehost
