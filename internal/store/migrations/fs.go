// Package migrations holds the versioned schema for C2's sqlite database
// (spec.md §4.2) and a golang-migrate/migrate/v4 database.Driver adapter for
// the pure-Go ncruces/go-sqlite3 driver, which golang-migrate has no
// built-in support for (its bundled sqlite3 driver targets mattn/go-sqlite3,
// which needs cgo).
package migrations

import "embed"

// FS embeds the numbered .up.sql/.down.sql pairs, read by store.Open via
// the golang-migrate iofs source driver.
//
//go:embed *.sql
var FS embed.FS
