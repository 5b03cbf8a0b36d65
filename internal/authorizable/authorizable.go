// Package authorizable manages users and groups stored as sparse rows.
//
// A user or group is one row in the authorizable family keyed by its id.
// Groups carry the GroupField marker. Multi-valued fields (principals,
// members) are stored as ListSeparator-joined strings.
package authorizable

import (
	"slices"
	"strings"

	"github.com/roach88/sparsemap/internal/storage"
)

// Column names.
const (
	IDField             = "id"
	NameField           = "name"
	PasswordField       = "pwd"
	PrincipalsField     = "principals"
	MembersField        = "members"
	GroupField          = "type"
	CreatedField        = "created"
	CreatedByField      = "createdBy"
	LastModifiedField   = "lastModified"
	LastModifiedByField = "lastModifiedBy"
)

const (
	// GroupValue in GroupField marks a row as a group.
	GroupValue = "g"

	// NoPassword is stored for authorizables that cannot log in.
	NoPassword = "--none--"

	ListSeparator = ";"
)

// IsGroupRecord reports whether the row carries the group marker.
func IsGroupRecord(r storage.Record) bool {
	return r[GroupField] == GroupValue
}

// Authorizable is a loaded user or group together with its unsaved edits.
type Authorizable interface {
	ID() string
	Name() string
	IsGroup() bool

	// Property returns a column value as currently edited.
	Property(name string) (string, bool)

	// Properties returns a copy of all columns as currently edited.
	Properties() storage.Record

	SetProperty(name, value string)
	RemoveProperty(name string)

	Principals() []string

	// AddPrincipal and RemovePrincipal report whether the principal list
	// changed.
	AddPrincipal(id string) bool
	RemovePrincipal(id string) bool

	// IsModified reports whether there are unsaved property edits.
	IsModified() bool

	// PropertiesForUpdate returns the unsaved edits: a string sets a
	// column, nil removes it.
	PropertiesForUpdate() storage.Changes

	// Reset forgets unsaved edits tracking after a successful save.
	Reset()
}

// entity holds the fields shared by users and groups.
// The id is fixed at load; editing the id column does not rename the row.
type entity struct {
	id      string
	props   storage.Record
	pending storage.Changes
}

func newEntity(r storage.Record) entity {
	return entity{id: r[IDField], props: r.Clone(), pending: storage.Changes{}}
}

func (e *entity) ID() string   { return e.id }
func (e *entity) Name() string { return e.props[NameField] }

func (e *entity) Property(name string) (string, bool) {
	v, ok := e.props[name]
	return v, ok
}

func (e *entity) Properties() storage.Record {
	return e.props.Clone()
}

func (e *entity) SetProperty(name, value string) {
	if cur, ok := e.props[name]; ok && cur == value {
		return
	}
	e.props[name] = value
	e.pending[name] = value
}

func (e *entity) RemoveProperty(name string) {
	if _, ok := e.props[name]; !ok {
		return
	}
	delete(e.props, name)
	e.pending[name] = nil
}

func (e *entity) list(field string) []string {
	return splitList(e.props[field])
}

func (e *entity) setList(field string, ids []string) {
	if len(ids) == 0 {
		e.RemoveProperty(field)
		return
	}
	e.SetProperty(field, strings.Join(ids, ListSeparator))
}

func (e *entity) Principals() []string {
	return e.list(PrincipalsField)
}

func (e *entity) AddPrincipal(id string) bool {
	ps := e.Principals()
	if slices.Contains(ps, id) {
		return false
	}
	e.setList(PrincipalsField, append(ps, id))
	return true
}

func (e *entity) RemovePrincipal(id string) bool {
	ps := e.Principals()
	i := slices.Index(ps, id)
	if i < 0 {
		return false
	}
	e.setList(PrincipalsField, slices.Delete(ps, i, i+1))
	return true
}

func (e *entity) IsModified() bool {
	return len(e.pending) > 0
}

func (e *entity) PropertiesForUpdate() storage.Changes {
	out := make(storage.Changes, len(e.pending))
	for k, v := range e.pending {
		out[k] = v
	}
	return out
}

func (e *entity) Reset() {
	e.pending = storage.Changes{}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ListSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// User is an authorizable that may hold a password.
type User struct {
	entity
}

var _ Authorizable = (*User)(nil)

// NewUser wraps a loaded row.
func NewUser(r storage.Record) *User {
	return &User{entity: newEntity(r)}
}

func (u *User) IsGroup() bool { return false }

// MemberChanges records membership edits made since a group was loaded.
// An id is never in both lists.
type MemberChanges struct {
	added   []string
	removed []string
}

// Added returns the ids added since load, in edit order.
func (m MemberChanges) Added() []string { return slices.Clone(m.added) }

// Removed returns the ids removed since load, in edit order.
func (m MemberChanges) Removed() []string { return slices.Clone(m.removed) }

// Empty reports whether membership is unchanged.
func (m MemberChanges) Empty() bool { return len(m.added) == 0 && len(m.removed) == 0 }

// Group is an authorizable with members.
type Group struct {
	entity
	changes MemberChanges
}

var _ Authorizable = (*Group)(nil)

// NewGroup wraps a loaded row.
func NewGroup(r storage.Record) *Group {
	return &Group{entity: newEntity(r)}
}

func (g *Group) IsGroup() bool { return true }

// Members returns the member ids as currently edited.
func (g *Group) Members() []string {
	return g.list(MembersField)
}

// Changes returns a copy of the membership edits since load.
func (g *Group) Changes() MemberChanges {
	return MemberChanges{added: g.changes.Added(), removed: g.changes.Removed()}
}

// AddMember adds id to the group. Re-adding a member removed in this
// session cancels the removal. It reports whether the member list changed.
func (g *Group) AddMember(id string) bool {
	members := g.Members()
	if slices.Contains(members, id) {
		return false
	}
	g.setList(MembersField, append(members, id))
	if i := slices.Index(g.changes.removed, id); i >= 0 {
		g.changes.removed = slices.Delete(g.changes.removed, i, i+1)
	} else {
		g.changes.added = append(g.changes.added, id)
	}
	return true
}

// RemoveMember removes id from the group. Removing a member added in this
// session cancels the addition. It reports whether the member list changed.
func (g *Group) RemoveMember(id string) bool {
	members := g.Members()
	i := slices.Index(members, id)
	if i < 0 {
		return false
	}
	g.setList(MembersField, slices.Delete(members, i, i+1))
	if j := slices.Index(g.changes.added, id); j >= 0 {
		g.changes.added = slices.Delete(g.changes.added, j, j+1)
	} else {
		g.changes.removed = append(g.changes.removed, id)
	}
	return true
}

// Reset forgets unsaved edits and the membership change-set.
func (g *Group) Reset() {
	g.entity.Reset()
	g.changes = MemberChanges{}
}

func fromRecord(r storage.Record) Authorizable {
	if IsGroupRecord(r) {
		return NewGroup(r)
	}
	return NewUser(r)
}
