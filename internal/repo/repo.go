package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"prosync/internal/domain"
	"prosync/internal/events"
	"prosync/internal/migrate"
	"prosync/internal/normalize"
)

var ErrNotFound = errors.New("not found")

// Store persists the three collections. Both backends share these semantics.
type Store interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	SaveUser(ctx context.Context, u domain.User) (domain.User, error)
	DeleteUser(ctx context.Context, id string) error

	ListProjects(ctx context.Context) ([]domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	SaveProject(ctx context.Context, p domain.Project) (domain.Project, error)
	DeleteProject(ctx context.Context, id string) error
	AddComment(ctx context.Context, projectID string, c domain.Comment) (domain.Comment, error)

	ListAgenda(ctx context.Context) ([]domain.AgendaItem, error)
	SaveAgendaItem(ctx context.Context, it domain.AgendaItem) (domain.AgendaItem, error)
	DeleteAgendaItem(ctx context.Context, id string) error

	// ReplaceAll swaps every collection for the snapshot in one transaction.
	ReplaceAll(ctx context.Context, s domain.Snapshot) error
	Close() error
}

// ConflictError reports a uniqueness violation on save.
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q is already in use", e.Field, e.Value)
}

// PersistError wraps a backend failure. Hint carries a remedy when one is known.
type PersistError struct {
	Op   string
	Err  error
	Hint string
}

func (e *PersistError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *PersistError) Unwrap() error { return e.Err }

var missingColumn = regexp.MustCompile(`no such column: ([A-Za-z0-9_.]+)`)

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistError
	var ce *ConflictError
	if errors.Is(err, ErrNotFound) || errors.As(err, &pe) || errors.As(err, &ce) {
		return err
	}
	out := &PersistError{Op: op, Err: err}
	if m := missingColumn.FindStringSubmatch(err.Error()); m != nil {
		version, _ := migrate.Latest()
		out.Hint = fmt.Sprintf("column %s is missing; apply schema migration %d with `prosync migrate`", m[1], version)
	}
	return out
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return normalize.FormatTime(*t)
}

func newID() string {
	return uuid.NewString()
}

// isUUID reports whether id is a well-formed UUID.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func publish(p events.Publisher, c events.Change) {
	if p != nil {
		p.Publish(c)
	}
}

func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}

// checkUsername rejects u when another ACTIVE user holds the same username.
func checkUsername(users []domain.User, u domain.User) error {
	if u.Status != domain.UserActive {
		return nil
	}
	for _, other := range users {
		if other.ID == u.ID || other.Status != domain.UserActive {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(other.Username), strings.TrimSpace(u.Username)) {
			return &ConflictError{Field: "username", Value: u.Username}
		}
	}
	return nil
}

func prepareUser(u domain.User) domain.User {
	u.Username = strings.TrimSpace(u.Username)
	u.Status = normalize.UserStatus(string(u.Status))
	return u
}

// prepareProject brings p into canonical shape for a save. existing is the stored
// version, nil on insert.
func prepareProject(p domain.Project, existing *domain.Project, now time.Time) domain.Project {
	p.Status = normalize.ProjectStatus(string(p.Status))
	p.AssignedUserIDs = dedupe(p.AssignedUserIDs)
	if existing != nil {
		p.CreatedAt = existing.CreatedAt
		p.Comments = append([]domain.Comment{}, existing.Comments...)
		if existing.UpdatedAt.After(now) {
			now = existing.UpdatedAt
		}
	} else {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		comments := make([]domain.Comment, 0, len(p.Comments))
		for _, c := range p.Comments {
			comments = append(comments, prepareComment(c, p.ID, now))
		}
		p.Comments = comments
	}
	p.UpdatedAt = now

	stored := make(map[string]domain.Task)
	if existing != nil {
		for _, t := range existing.Tasks {
			stored[t.ID] = t
		}
	}
	seen := make(map[string]struct{}, len(p.Tasks))
	tasks := make([]domain.Task, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		if _, dup := seen[t.ID]; t.ID == "" || dup {
			t.ID = newID()
		}
		seen[t.ID] = struct{}{}
		t.Stage = normalize.Stage(string(t.Stage))
		switch {
		case !t.Completed:
			t.CompletedAt = nil
		case t.CompletedAt != nil && !t.CompletedAt.IsZero():
		default:
			// Still completed since the last save: the stamp stays put.
			if prev, ok := stored[t.ID]; ok && prev.Completed && prev.CompletedAt != nil {
				ts := *prev.CompletedAt
				t.CompletedAt = &ts
				break
			}
			ts := now
			t.CompletedAt = &ts
		}
		tasks = append(tasks, t)
	}
	p.Tasks = tasks
	return p
}

func prepareComment(c domain.Comment, projectID string, now time.Time) domain.Comment {
	if c.ID == "" {
		c.ID = newID()
	}
	c.ProjectID = projectID
	if c.Timestamp.IsZero() {
		c.Timestamp = now
	}
	return c
}

func prepareAgenda(it domain.AgendaItem) domain.AgendaItem {
	it.Type = normalize.AgendaType(string(it.Type))
	return it
}

// prepareSnapshot fills minted ids and empty collections before a wholesale replace.
func prepareSnapshot(s domain.Snapshot, now time.Time) domain.Snapshot {
	out := domain.Snapshot{ExportedAt: s.ExportedAt}
	out.Users = make([]domain.User, 0, len(s.Users))
	for _, u := range s.Users {
		if u.ID == "" {
			u.ID = newID()
		}
		out.Users = append(out.Users, prepareUser(u))
	}
	out.Projects = make([]domain.Project, 0, len(s.Projects))
	for _, p := range s.Projects {
		if p.ID == "" {
			p.ID = newID()
		}
		createdAt, updatedAt := p.CreatedAt, p.UpdatedAt
		p = prepareProject(p, nil, now)
		if !updatedAt.IsZero() {
			p.UpdatedAt = updatedAt
		}
		if createdAt.IsZero() {
			p.CreatedAt = p.UpdatedAt
		}
		out.Projects = append(out.Projects, p)
	}
	out.Agenda = make([]domain.AgendaItem, 0, len(s.Agenda))
	for _, it := range s.Agenda {
		if it.ID == "" {
			it.ID = newID()
		}
		out.Agenda = append(out.Agenda, prepareAgenda(it))
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortUsers(users []domain.User) {
	sort.SliceStable(users, func(i, j int) bool {
		a, b := strings.ToLower(users[i].Name), strings.ToLower(users[j].Name)
		if a != b {
			return a < b
		}
		return users[i].ID < users[j].ID
	})
}

func sortProjects(projects []domain.Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		if !projects[i].UpdatedAt.Equal(projects[j].UpdatedAt) {
			return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
		}
		return projects[i].ID < projects[j].ID
	})
}

func sortAgenda(items []domain.AgendaItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.Before(items[j].Date)
		}
		return items[i].ID < items[j].ID
	})
}

func sortComments(comments []domain.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		if !comments[i].Timestamp.Equal(comments[j].Timestamp) {
			return comments[i].Timestamp.Before(comments[j].Timestamp)
		}
		return comments[i].ID < comments[j].ID
	})
}
