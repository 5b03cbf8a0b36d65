package statement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/sparsemap/internal/rowid"
	"github.com/roach88/sparsemap/internal/storage"
)

// Recognized operations.
const (
	RowSelect      = "row-select"
	RowDelete      = "row-delete"
	ColumnInsert   = "column-insert"
	ColumnUpdate   = "column-update"
	ColumnDelete   = "column-delete"
	Find           = "find"
	SchemaValidate = "schema-validate"
	SchemaCheck    = "schema-check"
)

// OptionRowIDHash names the digest used for row ids.
const OptionRowIDHash = "rowid-hash"

// preparedOperations are the operations a client prepares when it activates.
var preparedOperations = map[string]bool{
	RowSelect:    true,
	RowDelete:    true,
	ColumnInsert: true,
	ColumnUpdate: true,
	ColumnDelete: true,
}

// Templates maps dotted operation keys to backend query templates.
type Templates map[string]string

// Merge returns a copy of t with every key of other laid over it.
func (t Templates) Merge(other Templates) Templates {
	out := make(Templates, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Candidates returns the lookup keys for op in resolution order.
// An empty shard skips the sharded forms.
func Candidates(op, keyspace, family, shard string) []string {
	keys := make([]string, 0, 8)
	if shard != "" {
		s := "._" + shard
		keys = append(keys,
			op+"."+keyspace+"."+family+s,
			op+"."+family+s,
			op+"."+keyspace+s,
			op+s,
		)
	}
	return append(keys,
		op+"."+keyspace+"."+family,
		op+"."+family,
		op+"."+keyspace,
		op,
	)
}

// Resolver picks templates out of a Templates set.
//
// Thread-safety: not safe for concurrent use; parsed find templates are
// cached on first use. Each storage client owns its own Resolver.
type Resolver struct {
	templates Templates
	finds     map[string]*FindTemplate
}

// NewResolver returns a Resolver over templates.
func NewResolver(templates Templates) *Resolver {
	return &Resolver{templates: templates, finds: make(map[string]*FindTemplate)}
}

// Template returns the template configured under exactly key.
func (r *Resolver) Template(key string) (string, bool) {
	t, ok := r.templates[key]
	return t, ok
}

// ResolveKey returns the most specific configured key for op on the row rid.
// The shard is taken from rid; an empty rid resolves without shards.
func (r *Resolver) ResolveKey(op, keyspace, family, rid string) (string, error) {
	keys := Candidates(op, keyspace, family, rowid.Shard(rid))
	for _, k := range keys {
		if _, ok := r.templates[k]; ok {
			return k, nil
		}
	}
	return "", storage.NewConfigurationError("resolve statement",
		fmt.Sprintf("no template for any of %v", keys))
}

// Resolve is ResolveKey returning the template text.
func (r *Resolver) Resolve(op, keyspace, family, rid string) (string, error) {
	k, err := r.ResolveKey(op, keyspace, family, rid)
	if err != nil {
		return "", err
	}
	return r.templates[k], nil
}

// ResolveFind returns the parsed find template for keyspace/family.
// Find queries may span shards so only the unsharded keys are consulted.
func (r *Resolver) ResolveFind(keyspace, family string) (*FindTemplate, error) {
	k, err := r.ResolveKey(Find, keyspace, family, "")
	if err != nil {
		return nil, err
	}
	if ft, ok := r.finds[k]; ok {
		return ft, nil
	}
	ft, err := ParseFind(r.templates[k])
	if err != nil {
		return nil, storage.NewConfigurationError("resolve statement",
			fmt.Sprintf("template %s: %v", k, err))
	}
	r.finds[k] = ft
	return ft, nil
}

// PreparedKeys returns the configured keys a client prepares on activation:
// those whose operation segment is a row or column operation. Sorted.
func (r *Resolver) PreparedKeys() []string {
	var keys []string
	for k := range r.templates {
		op, _, _ := strings.Cut(k, ".")
		if preparedOperations[op] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
