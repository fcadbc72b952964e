package migrations

import "embed"

// Files holds the schema migrations for the session, campaign, message log
// and auto-reply tables. Applied in lexicographical filename order.
//
//go:embed *.sql
var Files embed.FS
