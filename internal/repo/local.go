package repo

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"prosync/internal/domain"
	"prosync/internal/events"
	"prosync/internal/normalize"
)

// Document keys in the kv table.
const (
	usersKey    = "prosync_users_v2"
	projectsKey = "prosync_projects_v2"
	agendaKey   = "prosync_agenda_v1"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getKV(ctx context.Context, q execer, key string) ([]byte, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func putKV(ctx context.Context, q execer, key string, value []byte, now time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO kv(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, string(value), normalize.FormatTime(now))
	return err
}

// Local keeps each collection as one JSON document in the kv table. Every operation is a
// read-modify-write under mu.
type Local struct {
	DB     *sql.DB
	Now    func() time.Time
	Events events.Publisher

	mu sync.Mutex
}

func NewLocal(db *sql.DB, pub events.Publisher) *Local {
	return &Local{DB: db, Now: time.Now, Events: pub}
}

func (l *Local) Close() error {
	return l.DB.Close()
}

// ensureSeeded writes the bootstrap dataset when nothing was ever persisted. Callers hold mu.
func (l *Local) ensureSeeded(ctx context.Context) error {
	_, ok, err := getKV(ctx, l.DB, seedKey)
	if err != nil {
		return persistErr("read seed marker", err)
	}
	if ok {
		return nil
	}
	now := clock(l.Now)
	_, hasUsers, err := getKV(ctx, l.DB, usersKey)
	if err != nil {
		return persistErr("read users", err)
	}
	_, hasProjects, err := getKV(ctx, l.DB, projectsKey)
	if err != nil {
		return persistErr("read projects", err)
	}
	if hasUsers || hasProjects {
		return persistErr("write seed marker", putKV(ctx, l.DB, seedKey, []byte("true"), now))
	}
	return l.replace(ctx, Seed(now), now)
}

func (l *Local) replace(ctx context.Context, s domain.Snapshot, now time.Time) error {
	users, err := normalize.EncodeUsers(s.Users)
	if err != nil {
		return persistErr("encode users", err)
	}
	projects, err := normalize.EncodeProjects(s.Projects)
	if err != nil {
		return persistErr("encode projects", err)
	}
	agenda, err := normalize.EncodeAgenda(s.Agenda)
	if err != nil {
		return persistErr("encode agenda", err)
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin replace", err)
	}
	defer tx.Rollback()
	for _, doc := range []struct {
		key   string
		value []byte
	}{
		{usersKey, users},
		{projectsKey, projects},
		{agendaKey, agenda},
		{seedKey, []byte("true")},
	} {
		if err := putKV(ctx, tx, doc.key, doc.value, now); err != nil {
			return persistErr("write "+doc.key, err)
		}
	}
	return persistErr("commit replace", tx.Commit())
}

func (l *Local) loadUsers(ctx context.Context) ([]domain.User, error) {
	if err := l.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	data, ok, err := getKV(ctx, l.DB, usersKey)
	if err != nil {
		return nil, persistErr("read users", err)
	}
	if !ok {
		return []domain.User{}, nil
	}
	return normalize.DecodeUsers(data)
}

func (l *Local) storeUsers(ctx context.Context, users []domain.User) error {
	data, err := normalize.EncodeUsers(users)
	if err != nil {
		return persistErr("encode users", err)
	}
	return persistErr("write users", putKV(ctx, l.DB, usersKey, data, clock(l.Now)))
}

func (l *Local) loadProjects(ctx context.Context) ([]domain.Project, error) {
	if err := l.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	data, ok, err := getKV(ctx, l.DB, projectsKey)
	if err != nil {
		return nil, persistErr("read projects", err)
	}
	if !ok {
		return []domain.Project{}, nil
	}
	return normalize.DecodeProjects(data)
}

func (l *Local) storeProjects(ctx context.Context, projects []domain.Project) error {
	data, err := normalize.EncodeProjects(projects)
	if err != nil {
		return persistErr("encode projects", err)
	}
	return persistErr("write projects", putKV(ctx, l.DB, projectsKey, data, clock(l.Now)))
}

func (l *Local) loadAgenda(ctx context.Context) ([]domain.AgendaItem, error) {
	if err := l.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	data, ok, err := getKV(ctx, l.DB, agendaKey)
	if err != nil {
		return nil, persistErr("read agenda", err)
	}
	if !ok {
		return []domain.AgendaItem{}, nil
	}
	return normalize.DecodeAgenda(data)
}

func (l *Local) storeAgenda(ctx context.Context, items []domain.AgendaItem) error {
	data, err := normalize.EncodeAgenda(items)
	if err != nil {
		return persistErr("encode agenda", err)
	}
	return persistErr("write agenda", putKV(ctx, l.DB, agendaKey, data, clock(l.Now)))
}

func (l *Local) ListUsers(ctx context.Context) ([]domain.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	users, err := l.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	sortUsers(users)
	return users, nil
}

func (l *Local) SaveUser(ctx context.Context, u domain.User) (domain.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	users, err := l.loadUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	u = prepareUser(u)
	idx := -1
	if u.ID != "" {
		for i := range users {
			if users[i].ID == u.ID {
				idx = i
				break
			}
		}
	}
	kind := events.Updated
	if idx < 0 {
		if u.ID == "" {
			u.ID = newID()
		}
		kind = events.Created
	}
	if err := checkUsername(users, u); err != nil {
		return domain.User{}, err
	}
	if idx < 0 {
		users = append(users, u)
	} else {
		users[idx] = u
	}
	if err := l.storeUsers(ctx, users); err != nil {
		return domain.User{}, err
	}
	publish(l.Events, events.Change{Kind: kind, Entity: events.EntityUser, EntityID: u.ID})
	return u, nil
}

func (l *Local) DeleteUser(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	users, err := l.loadUsers(ctx)
	if err != nil {
		return err
	}
	out := users[:0]
	found := false
	for _, u := range users {
		if u.ID == id {
			found = true
			continue
		}
		out = append(out, u)
	}
	if !found {
		return ErrNotFound
	}
	if err := l.storeUsers(ctx, out); err != nil {
		return err
	}
	publish(l.Events, events.Change{Kind: events.Deleted, Entity: events.EntityUser, EntityID: id})
	return nil
}

func (l *Local) ListProjects(ctx context.Context) ([]domain.Project, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	projects, err := l.loadProjects(ctx)
	if err != nil {
		return nil, err
	}
	sortProjects(projects)
	return projects, nil
}

func (l *Local) GetProject(ctx context.Context, id string) (domain.Project, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	projects, err := l.loadProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	for _, p := range projects {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Project{}, ErrNotFound
}

func (l *Local) SaveProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	projects, err := l.loadProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	idx := -1
	if p.ID != "" {
		for i := range projects {
			if projects[i].ID == p.ID {
				idx = i
				break
			}
		}
	}
	now := clock(l.Now)
	kind := events.Updated
	if idx < 0 {
		if p.ID == "" {
			p.ID = newID()
		}
		p = prepareProject(p, nil, now)
		projects = append(projects, p)
		kind = events.Created
	} else {
		p = prepareProject(p, &projects[idx], now)
		projects[idx] = p
	}
	if err := l.storeProjects(ctx, projects); err != nil {
		return domain.Project{}, err
	}
	publish(l.Events, events.Change{Kind: kind, Entity: events.EntityProject, ProjectID: p.ID, EntityID: p.ID})
	return p, nil
}

func (l *Local) DeleteProject(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	projects, err := l.loadProjects(ctx)
	if err != nil {
		return err
	}
	out := projects[:0]
	found := false
	for _, p := range projects {
		if p.ID == id {
			found = true
			continue
		}
		out = append(out, p)
	}
	if !found {
		return ErrNotFound
	}
	if err := l.storeProjects(ctx, out); err != nil {
		return err
	}
	publish(l.Events, events.Change{Kind: events.Deleted, Entity: events.EntityProject, ProjectID: id, EntityID: id})
	return nil
}

func (l *Local) AddComment(ctx context.Context, projectID string, c domain.Comment) (domain.Comment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	projects, err := l.loadProjects(ctx)
	if err != nil {
		return domain.Comment{}, err
	}
	for i := range projects {
		if projects[i].ID != projectID {
			continue
		}
		now := clock(l.Now)
		c.ID = ""
		c.Timestamp = time.Time{}
		c = prepareComment(c, projectID, now)
		projects[i].Comments = append(projects[i].Comments, c)
		if err := l.storeProjects(ctx, projects); err != nil {
			return domain.Comment{}, err
		}
		publish(l.Events, events.Change{Kind: events.Created, Entity: events.EntityComment, ProjectID: projectID, EntityID: c.ID})
		return c, nil
	}
	return domain.Comment{}, ErrNotFound
}

func (l *Local) ListAgenda(ctx context.Context) ([]domain.AgendaItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	items, err := l.loadAgenda(ctx)
	if err != nil {
		return nil, err
	}
	sortAgenda(items)
	return items, nil
}

func (l *Local) SaveAgendaItem(ctx context.Context, it domain.AgendaItem) (domain.AgendaItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	items, err := l.loadAgenda(ctx)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	it = prepareAgenda(it)
	idx := -1
	if strings.TrimSpace(it.ID) != "" {
		for i := range items {
			if items[i].ID == it.ID {
				idx = i
				break
			}
		}
	}
	kind := events.Updated
	if idx < 0 {
		if it.ID == "" {
			it.ID = newID()
		}
		items = append(items, it)
		kind = events.Created
	} else {
		items[idx] = it
	}
	if err := l.storeAgenda(ctx, items); err != nil {
		return domain.AgendaItem{}, err
	}
	publish(l.Events, events.Change{Kind: kind, Entity: events.EntityAgenda, EntityID: it.ID})
	return it, nil
}

func (l *Local) DeleteAgendaItem(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	items, err := l.loadAgenda(ctx)
	if err != nil {
		return err
	}
	out := items[:0]
	found := false
	for _, it := range items {
		if it.ID == id {
			found = true
			continue
		}
		out = append(out, it)
	}
	if !found {
		return ErrNotFound
	}
	if err := l.storeAgenda(ctx, out); err != nil {
		return err
	}
	publish(l.Events, events.Change{Kind: events.Deleted, Entity: events.EntityAgenda, EntityID: id})
	return nil
}

func (l *Local) ReplaceAll(ctx context.Context, s domain.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := clock(l.Now)
	if err := l.replace(ctx, prepareSnapshot(s, now), now); err != nil {
		return err
	}
	publish(l.Events, events.Change{Kind: events.Replaced, Entity: events.EntitySnapshot})
	return nil
}
