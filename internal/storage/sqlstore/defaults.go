package sqlstore

import (
	"embed"

	"github.com/roach88/sparsemap/internal/storage/statement"
)

//go:embed sqlite.yaml sqlite.ddl
var defaults embed.FS

// DefaultSchema is the name of the embedded SQLite schema script.
const DefaultSchema = "sqlite.ddl"

// DefaultTemplates returns the embedded SQLite statement templates.
func DefaultTemplates() statement.Templates {
	data, err := defaults.ReadFile("sqlite.yaml")
	if err != nil {
		panic(err)
	}
	t, err := statement.Parse(data, "yaml")
	if err != nil {
		panic(err)
	}
	return t
}
