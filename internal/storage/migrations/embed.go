// Package migrations embeds the SQL schema for both stores and applies it
// in lexical file order.
package migrations

import (
	"embed"
	"io/fs"
	"path"
)

// PostgresFS embeds the PostgreSQL migrations.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse migrations.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// sqlFiles returns the base names of the .sql files in dir. fs.Glob keeps
// the lexical order, which is the apply order.
func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	matches, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = path.Base(m)
	}
	return files, nil
}
