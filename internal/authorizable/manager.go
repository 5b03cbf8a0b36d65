package authorizable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/sparsemap/internal/accesscontrol"
	"github.com/roach88/sparsemap/internal/storage"
)

// Defaults for Options.
const (
	DefaultKeyspace = "n"
	DefaultFamily   = "au"
)

// Fields callers may never write directly.
var filteredFields = []string{IDField, PasswordField}

// Fields Update never takes from the caller's edits. Principals change only
// through group membership reconciliation, and the group marker is fixed at
// create.
var updateFilteredFields = []string{PrincipalsField, GroupField}

// dummyHash is compared against when authenticating an unknown id so the
// response time does not reveal whether the id exists.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("unused"), bcrypt.DefaultCost)
	return h
})

// Options configures NewManager.
type Options struct {
	Keyspace string
	Family   string

	// Now stamps created/modified columns. Defaults to time.Now.
	Now func() time.Time

	// PasswordCost is the bcrypt cost. Defaults to bcrypt.DefaultCost.
	PasswordCost int

	Logger *slog.Logger
}

// Manager loads, creates and updates authorizables on behalf of the current
// user of an access control manager.
//
// Thread-safety: a Manager is bound to one storage client and, like it, is
// not safe for concurrent use.
type Manager struct {
	client   storage.Client
	access   accesscontrol.Manager
	keyspace string
	family   string
	now      func() time.Time
	cost     int
	logger   *slog.Logger
}

// NewManager returns a Manager reading and writing through client.
func NewManager(client storage.Client, access accesscontrol.Manager, opts Options) *Manager {
	m := &Manager{
		client:   client,
		access:   access,
		keyspace: opts.Keyspace,
		family:   opts.Family,
		now:      opts.Now,
		cost:     opts.PasswordCost,
		logger:   opts.Logger,
	}
	if m.keyspace == "" {
		m.keyspace = DefaultKeyspace
	}
	if m.family == "" {
		m.family = DefaultFamily
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.cost == 0 {
		m.cost = bcrypt.DefaultCost
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// CurrentUserID returns the id checks are made for.
func (m *Manager) CurrentUserID() string {
	return m.access.CurrentUserID()
}

// Find loads id. Reading anyone but yourself needs read permission. A
// missing row returns nil with no error.
func (m *Manager) Find(ctx context.Context, id string) (Authorizable, error) {
	if id != m.access.CurrentUserID() {
		if err := m.access.Check(ctx, accesscontrol.ZoneAuthorizables, id, accesscontrol.CanRead); err != nil {
			return nil, err
		}
	}
	rec, err := m.client.Get(ctx, m.keyspace, m.family, id)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", id, err)
	}
	if len(rec) == 0 {
		return nil, nil
	}
	return fromRecord(rec), nil
}

// Create stores a new user or group, chosen by the group marker in props.
// It returns false without writing when id already exists. An empty
// password stores NoPassword. Caller-supplied id and password columns in
// props are ignored.
func (m *Manager) Create(ctx context.Context, id, name, password string, props storage.Record) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	target := accesscontrol.AdminUsers
	if IsGroupRecord(props) {
		target = accesscontrol.AdminGroups
	}
	if err := m.access.Check(ctx, accesscontrol.ZoneAdmin, target, accesscontrol.CanWrite); err != nil {
		return false, err
	}
	existing, err := m.Find(ctx, id)
	if err != nil {
		return false, err
	}
	if existing != nil {
		m.logger.Debug("authorizable already exists", "id", id)
		return false, nil
	}

	pwd := NoPassword
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
		if err != nil {
			return false, fmt.Errorf("hash password: %w", err)
		}
		pwd = string(hash)
	}

	changes := filter(storage.ChangesFrom(props))
	changes[IDField] = id
	changes[NameField] = name
	changes[PasswordField] = pwd
	changes[CreatedField] = storage.ToStore(m.now())
	changes[CreatedByField] = m.access.CurrentUserID()
	if err := m.client.Insert(ctx, m.keyspace, m.family, id, changes); err != nil {
		return false, fmt.Errorf("create %s: %w", id, err)
	}
	m.logger.Info("authorizable created", "id", id, "group", IsGroupRecord(props))
	return true, nil
}

// CreateUser creates a user, dropping any group marker from props.
func (m *Manager) CreateUser(ctx context.Context, id, name, password string, props storage.Record) (bool, error) {
	props = props.Clone()
	if IsGroupRecord(props) {
		delete(props, GroupField)
	}
	return m.Create(ctx, id, name, password, props)
}

// CreateGroup creates a group without a password.
func (m *Manager) CreateGroup(ctx context.Context, id, name string, props storage.Record) (bool, error) {
	props = props.Clone()
	props[GroupField] = GroupValue
	return m.Create(ctx, id, name, "", props)
}

// Update persists a's unsaved edits, except edits to the principals and
// group marker columns, which are ignored. For a group, member principal lists
// are reconciled first: each added member gains the group as a principal
// and each removed member loses it. Added members that cannot be read are
// dropped from the group. Member rows are written before the group row and
// the writes are not atomic.
func (m *Manager) Update(ctx context.Context, a Authorizable) error {
	id := a.ID()
	if err := m.access.Check(ctx, accesscontrol.ZoneAuthorizables, id, accesscontrol.CanWrite); err != nil {
		return err
	}
	if g, ok := a.(*Group); ok {
		if err := m.reconcile(ctx, g); err != nil {
			return err
		}
	}
	changes := filter(a.PropertiesForUpdate())
	for _, f := range updateFilteredFields {
		if _, ok := changes[f]; ok {
			m.logger.Warn("ignoring protected column in update", "id", id, "column", f)
			delete(changes, f)
		}
	}
	changes[LastModifiedField] = storage.ToStore(m.now())
	changes[LastModifiedByField] = m.access.CurrentUserID()
	if err := m.client.Insert(ctx, m.keyspace, m.family, id, changes); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	a.Reset()
	return nil
}

func (m *Manager) reconcile(ctx context.Context, g *Group) error {
	changes := g.Changes()
	if changes.Empty() {
		return nil
	}

	var added, removed []Authorizable
	for _, id := range changes.Added() {
		member, err := m.Find(ctx, id)
		if err != nil || member == nil {
			// A group never holds a principal it cannot read.
			m.logger.Warn("dropping unreadable member", "group", g.ID(), "member", id, "error", err)
			g.RemoveMember(id)
			continue
		}
		added = append(added, member)
	}
	for _, id := range changes.Removed() {
		member, err := m.Find(ctx, id)
		if err != nil {
			m.logger.Warn("cannot load removed member", "group", g.ID(), "member", id, "error", err)
			continue
		}
		if member != nil {
			removed = append(removed, member)
		}
	}

	for _, member := range added {
		if !member.AddPrincipal(g.ID()) {
			m.logger.Info("member already holds group principal", "group", g.ID(), "member", member.ID())
			continue
		}
		if err := m.saveMember(ctx, member); err != nil {
			return err
		}
	}
	for _, member := range removed {
		if !member.RemovePrincipal(g.ID()) {
			m.logger.Info("member did not hold group principal", "group", g.ID(), "member", member.ID())
			continue
		}
		if err := m.saveMember(ctx, member); err != nil {
			return err
		}
	}
	m.logger.Info("membership reconciled", "group", g.ID(), "added", len(added), "removed", len(removed))
	return nil
}

func (m *Manager) saveMember(ctx context.Context, member Authorizable) error {
	if err := m.client.Insert(ctx, m.keyspace, m.family, member.ID(), filter(member.PropertiesForUpdate())); err != nil {
		return fmt.Errorf("update member %s: %w", member.ID(), err)
	}
	member.Reset()
	return nil
}

// Authenticate reports whether password matches the stored hash for user
// id. Groups, unknown ids and NoPassword accounts never authenticate.
// No access check is made.
func (m *Manager) Authenticate(ctx context.Context, id, password string) (bool, error) {
	rec, err := m.client.Get(ctx, m.keyspace, m.family, id)
	if err != nil {
		return false, fmt.Errorf("authenticate %s: %w", id, err)
	}
	hash := rec[PasswordField]
	if len(rec) == 0 || IsGroupRecord(rec) || hash == "" || hash == NoPassword {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return false, nil
	}
	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("authenticate %s: %w", id, err)
	}
	return true, nil
}

// SetPassword replaces the password of user id. It needs write permission
// on id.
func (m *Manager) SetPassword(ctx context.Context, id, password string) error {
	if err := m.access.Check(ctx, accesscontrol.ZoneAuthorizables, id, accesscontrol.CanWrite); err != nil {
		return err
	}
	pwd := NoPassword
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		pwd = string(hash)
	}
	changes := storage.Changes{
		PasswordField:       pwd,
		LastModifiedField:   storage.ToStore(m.now()),
		LastModifiedByField: m.access.CurrentUserID(),
	}
	if err := m.client.Insert(ctx, m.keyspace, m.family, id, changes); err != nil {
		return fmt.Errorf("set password %s: %w", id, err)
	}
	return nil
}

// Delete removes id and reports whether it existed. Membership references
// to it are cleaned up best-effort: a group's members lose its principal,
// a user is removed from the groups it belongs to. Failures there are
// logged only.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	if err := m.access.Check(ctx, accesscontrol.ZoneAuthorizables, id, accesscontrol.CanDelete); err != nil {
		return false, err
	}
	a, err := m.Find(ctx, id)
	if err != nil {
		return false, err
	}
	if a == nil {
		return false, nil
	}

	if g, ok := a.(*Group); ok {
		for _, memberID := range g.Members() {
			member, err := m.Find(ctx, memberID)
			if err != nil || member == nil || !member.RemovePrincipal(id) {
				continue
			}
			if err := m.saveMember(ctx, member); err != nil {
				m.logger.Warn("cannot drop deleted group principal", "group", id, "member", memberID, "error", err)
			}
		}
	}
	for _, groupID := range a.Principals() {
		found, err := m.Find(ctx, groupID)
		g, ok := found.(*Group)
		if err != nil || !ok || !g.RemoveMember(id) {
			continue
		}
		if err := m.saveMember(ctx, g); err != nil {
			m.logger.Warn("cannot drop deleted member", "group", groupID, "member", id, "error", err)
		}
	}

	if err := m.client.Remove(ctx, m.keyspace, m.family, id); err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	m.logger.Info("authorizable deleted", "id", id)
	return true, nil
}

// filter drops columns callers may not write.
func filter(c storage.Changes) storage.Changes {
	for _, f := range filteredFields {
		delete(c, f)
	}
	return c
}

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return storage.NewConfigurationError("create", "authorizable id is required")
	}
	if strings.Contains(id, ListSeparator) || id == accesscontrol.Any {
		return storage.NewConfigurationError("create", fmt.Sprintf("invalid authorizable id %q", id))
	}
	return nil
}
