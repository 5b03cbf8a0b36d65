package statement

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/sparsemap/internal/storage"
)

// FindTemplate is a parsed find template.
type FindTemplate struct {
	Row   string
	Join  string
	Where string
}

// ParseFind splits a find template into its three parts.
// Parts that are entirely blank are dropped, so a trailing ';' is allowed.
func ParseFind(template string) (*FindTemplate, error) {
	var parts []string
	for _, p := range strings.Split(template, ";") {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) != 3 {
		return nil, fmt.Errorf("find template needs 3 ';'-separated parts, got %d", len(parts))
	}
	return &FindTemplate{
		Row:   strings.TrimSpace(parts[0]),
		Join:  parts[1],
		Where: parts[2],
	}, nil
}

// Build assembles the query for predicates on keyspace/family.
// Predicates are applied in sorted column order with aliases a0..aN; each
// contributes its column then its value to args. {2} and {3} in the row
// template become parameters bound to keyspace and family. Args follow the
// order in which their placeholders appear in the row template.
func (f *FindTemplate) Build(keyspace, family string, predicates storage.Record) (string, []any) {
	var joins, wheres strings.Builder
	whereArgs := make([]any, 0, 2*len(predicates))
	for i, col := range predicates.Columns() {
		alias := "a" + strconv.Itoa(i)
		joins.WriteString(strings.ReplaceAll(f.Join, "{0}", alias))
		wheres.WriteString(strings.ReplaceAll(f.Where, "{0}", alias))
		whereArgs = append(whereArgs, col, predicates[col])
	}

	var sql strings.Builder
	args := make([]any, 0, len(whereArgs)+2)
	rest := f.Row
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 || i+2 >= len(rest) || rest[i+2] != '}' {
			sql.WriteString(rest)
			break
		}
		sql.WriteString(rest[:i])
		switch rest[i+1] {
		case '0':
			sql.WriteString(joins.String())
		case '1':
			sql.WriteString(wheres.String())
			args = append(args, whereArgs...)
		case '2':
			sql.WriteString("?")
			args = append(args, keyspace)
		case '3':
			sql.WriteString("?")
			args = append(args, family)
		default:
			sql.WriteString(rest[i : i+3])
		}
		rest = rest[i+3:]
	}
	return sql.String(), args
}
