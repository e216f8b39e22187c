// Package migrations applies the embedded schema for both stores:
// PostgreSQL (transactions, confluences) and ClickHouse (event archive).
package migrations

import "embed"

// PostgresFS embeds the PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse migration files.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
