package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"prosync/internal/db"
	"prosync/internal/domain"
	"prosync/internal/engine/auth"
	"prosync/internal/events"
	"prosync/internal/migrate"
)

type backend struct {
	name string
	open func(t *testing.T, pub events.Publisher, now func() time.Time) Store
}

func backends() []backend {
	return []backend{
		{"local", func(t *testing.T, pub events.Publisher, now func() time.Time) Store {
			s := NewLocal(migrated(t), pub)
			s.Now = now
			return s
		}},
		{"sql", func(t *testing.T, pub events.Publisher, now func() time.Time) Store {
			s := NewSQL(migrated(t), pub)
			s.Now = now
			return s
		}},
	}
}

func migrated(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type clockStub struct{ t time.Time }

func (c *clockStub) now() time.Time { return c.t }

func (c *clockStub) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clockStub {
	return &clockStub{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func forEach(t *testing.T, fn func(t *testing.T, s Store, clk *clockStub)) {
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			clk := newClock()
			fn(t, b.open(t, nil, clk.now), clk)
		})
	}
}

func TestSeedOnFirstAccess(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, _ *clockStub) {
		ctx := context.Background()
		users, err := s.ListUsers(ctx)
		if err != nil {
			t.Fatalf("list users: %v", err)
		}
		if len(users) != 1 || users[0].Username != "admin" || !users[0].IsAdmin {
			t.Fatalf("expected seeded admin, got %+v", users)
		}
		projects, err := s.ListProjects(ctx)
		if err != nil {
			t.Fatalf("list projects: %v", err)
		}
		if len(projects) != 1 || len(projects[0].Tasks) != 2 || len(projects[0].Comments) != 1 {
			t.Fatalf("expected welcome project, got %+v", projects)
		}
		if projects[0].ResponsibleID != users[0].ID {
			t.Fatalf("welcome project should belong to the admin")
		}
	})
}

func TestReplaceAllEmptyIsNotReseeded(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, _ *clockStub) {
		ctx := context.Background()
		if err := s.ReplaceAll(ctx, domain.Snapshot{}); err != nil {
			t.Fatalf("replace: %v", err)
		}
		users, err := s.ListUsers(ctx)
		if err != nil {
			t.Fatalf("list users: %v", err)
		}
		projects, err := s.ListProjects(ctx)
		if err != nil {
			t.Fatalf("list projects: %v", err)
		}
		agenda, err := s.ListAgenda(ctx)
		if err != nil {
			t.Fatalf("list agenda: %v", err)
		}
		if len(users) != 0 || len(projects) != 0 || len(agenda) != 0 {
			t.Fatalf("expected empty store, got %d users %d projects %d agenda", len(users), len(projects), len(agenda))
		}
	})
}

func TestReplaceAllIsTotal(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, _ *clockStub) {
		ctx := context.Background()
		if _, err := s.ListProjects(ctx); err != nil {
			t.Fatalf("seed: %v", err)
		}
		at := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
		snap := domain.Snapshot{
			Users:    []domain.User{{ID: "u-1", Name: "Bia", Username: "bia", Status: domain.UserActive}},
			Projects: []domain.Project{{ID: "p-1", Title: "Imported", ResponsibleID: "u-1", Tasks: []domain.Task{{ID: "t-1", Title: "a", Stage: domain.StageSurvey}}, UpdatedAt: at}},
		}
		if err := s.ReplaceAll(ctx, snap); err != nil {
			t.Fatalf("replace: %v", err)
		}
		users, _ := s.ListUsers(ctx)
		projects, _ := s.ListProjects(ctx)
		if len(users) != 1 || users[0].Username != "bia" {
			t.Fatalf("unexpected users %+v", users)
		}
		if len(projects) != 1 || projects[0].Title != "Imported" || len(projects[0].Tasks) != 1 {
			t.Fatalf("unexpected projects %+v", projects)
		}
		if projects[0].ResponsibleID != users[0].ID {
			t.Fatalf("references should survive import: %s vs %s", projects[0].ResponsibleID, users[0].ID)
		}
		if !projects[0].UpdatedAt.Equal(at) {
			t.Fatalf("import should keep updatedAt, got %v", projects[0].UpdatedAt)
		}
	})
}

func TestSaveProjectIdentityIsIdempotent(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, clk *clockStub) {
		ctx := context.Background()
		if err := s.ReplaceAll(ctx, domain.Snapshot{}); err != nil {
			t.Fatalf("replace: %v", err)
		}
		p, err := s.SaveProject(ctx, domain.Project{Title: "Casa", Tasks: []domain.Task{{Title: "medir", Stage: domain.StageSurvey}}})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if p.ID == "" || p.Tasks[0].ID == "" {
			t.Fatalf("expected minted ids: %+v", p)
		}
		created := p.UpdatedAt
		clk.advance(time.Minute)
		p.Title = "Casa 2"
		again, err := s.SaveProject(ctx, p)
		if err != nil {
			t.Fatalf("resave: %v", err)
		}
		if again.ID != p.ID {
			t.Fatalf("identity changed %s -> %s", p.ID, again.ID)
		}
		if !again.UpdatedAt.After(created) || !again.CreatedAt.Equal(p.CreatedAt) {
			t.Fatalf("unexpected timestamps created=%v updated=%v", again.CreatedAt, again.UpdatedAt)
		}
		projects, _ := s.ListProjects(ctx)
		if len(projects) != 1 || projects[0].Title != "Casa 2" {
			t.Fatalf("expected one updated project, got %+v", projects)
		}
	})
}

func TestSaveProjectKeepsStoredComments(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, _ *clockStub) {
		ctx := context.Background()
		_ = s.ReplaceAll(ctx, domain.Snapshot{})
		p, err := s.SaveProject(ctx, domain.Project{Title: "Obra"})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		c, err := s.AddComment(ctx, p.ID, domain.Comment{AuthorID: "u1", AuthorName: "Ana", Content: "hello"})
		if err != nil {
			t.Fatalf("comment: %v", err)
		}
		if c.ID == "" || c.ProjectID != p.ID || c.Timestamp.IsZero() {
			t.Fatalf("unexpected comment %+v", c)
		}
		p.Comments = nil
		saved, err := s.SaveProject(ctx, p)
		if err != nil {
			t.Fatalf("resave: %v", err)
		}
		if len(saved.Comments) != 1 {
			t.Fatalf("expected stored comment to survive, got %+v", saved.Comments)
		}
		got, err := s.GetProject(ctx, p.ID)
		if err != nil || len(got.Comments) != 1 || got.Comments[0].Content != "hello" {
			t.Fatalf("get project: %v %+v", err, got.Comments)
		}
		if _, err := s.AddComment(ctx, "missing", domain.Comment{Content: "x"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestCompletedAtFollowsCompleted(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, _ *clockStub) {
		ctx := context.Background()
		_ = s.ReplaceAll(ctx, domain.Snapshot{})
		stale := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		p, err := s.SaveProject(ctx, domain.Project{Title: "x", Tasks: []domain.Task{
			{Title: "done", Stage: domain.StageSurvey, Completed: true},
			{Title: "open", Stage: domain.StagePlanning, CompletedAt: &stale},
		}})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		got, _ := s.GetProject(ctx, p.ID)
		if got.Tasks[0].CompletedAt == nil || got.Tasks[1].CompletedAt != nil {
			t.Fatalf("completedAt inconsistent: %+v", got.Tasks)
		}
	})
}

func TestCompletedAtSurvivesResave(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, clk *clockStub) {
		ctx := context.Background()
		_ = s.ReplaceAll(ctx, domain.Snapshot{})
		p, err := s.SaveProject(ctx, domain.Project{Title: "x", Tasks: []domain.Task{
			{Title: "done", Stage: domain.StageSurvey, Completed: true},
			{Title: "open", Stage: domain.StagePlanning},
		}})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		first := *p.Tasks[0].CompletedAt

		clk.advance(time.Hour)
		p.Tasks[0].CompletedAt = nil
		p.Tasks[1].Completed = true
		if _, err := s.SaveProject(ctx, p); err != nil {
			t.Fatalf("resave: %v", err)
		}
		got, err := s.GetProject(ctx, p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Tasks[0].CompletedAt == nil || !got.Tasks[0].CompletedAt.Equal(first) {
			t.Fatalf("expected completedAt %v to stay, got %v", first, got.Tasks[0].CompletedAt)
		}
		if got.Tasks[1].CompletedAt == nil || !got.Tasks[1].CompletedAt.Equal(clk.now()) {
			t.Fatalf("expected newly completed task stamped %v, got %v", clk.now(), got.Tasks[1].CompletedAt)
		}
	})
}

func TestDeleteProjectCascades(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, _ *clockStub) {
		ctx := context.Background()
		_ = s.ReplaceAll(ctx, domain.Snapshot{})
		p, err := s.SaveProject(ctx, domain.Project{Title: "x", Tasks: []domain.Task{{Title: "a", Stage: domain.StageSurvey}}})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := s.AddComment(ctx, p.ID, domain.Comment{Content: "c"}); err != nil {
			t.Fatalf("comment: %v", err)
		}
		if err := s.DeleteProject(ctx, p.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.GetProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := s.DeleteProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second delete: expected not found, got %v", err)
		}
		if rel, ok := s.(*SQL); ok {
			for _, table := range []string{"tasks", "comments", "project_assignees"} {
				var n int
				if err := rel.DB.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE project_id=?`, p.ID).Scan(&n); err != nil || n != 0 {
					t.Fatalf("%s not cascaded: n=%d err=%v", table, n, err)
				}
			}
		}
	})
}

func TestUsernameConflict(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, _ *clockStub) {
		ctx := context.Background()
		_ = s.ReplaceAll(ctx, domain.Snapshot{})
		first, err := s.SaveUser(ctx, domain.User{Name: "Ana", Username: "ana", Status: domain.UserActive})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		_, err = s.SaveUser(ctx, domain.User{Name: "Ana 2", Username: "ANA", Status: domain.UserActive})
		var ce *ConflictError
		if !errors.As(err, &ce) || ce.Field != "username" {
			t.Fatalf("expected username conflict, got %v", err)
		}
		if _, err := s.SaveUser(ctx, domain.User{Name: "Old", Username: "ana", Status: domain.UserBlocked}); err != nil {
			t.Fatalf("blocked duplicate should be allowed: %v", err)
		}
		first.Name = "Ana Maria"
		if _, err := s.SaveUser(ctx, first); err != nil {
			t.Fatalf("resave same user: %v", err)
		}
		if err := s.DeleteUser(ctx, first.ID); err != nil {
			t.Fatalf("delete user: %v", err)
		}
		if err := s.DeleteUser(ctx, first.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestAgendaLifecycle(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, _ *clockStub) {
		ctx := context.Background()
		_ = s.ReplaceAll(ctx, domain.Snapshot{})
		late, err := s.SaveAgendaItem(ctx, domain.AgendaItem{UserID: "u1", Title: "late", Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Type: "VISITA"})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if late.Type != domain.AgendaVisit {
			t.Fatalf("expected alias to map, got %s", late.Type)
		}
		if _, err := s.SaveAgendaItem(ctx, domain.AgendaItem{UserID: "u1", Title: "early", Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Type: domain.AgendaMeeting}); err != nil {
			t.Fatalf("save: %v", err)
		}
		items, _ := s.ListAgenda(ctx)
		if len(items) != 2 || items[0].Title != "early" {
			t.Fatalf("expected date order, got %+v", items)
		}
		if err := s.DeleteAgendaItem(ctx, late.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.DeleteAgendaItem(ctx, late.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestChangesArePublished(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			hub := events.NewHub()
			var got []events.Change
			hub.Subscribe("", func(c events.Change) { got = append(got, c) })
			clk := newClock()
			s := b.open(t, hub, clk.now)
			ctx := context.Background()
			_ = s.ReplaceAll(ctx, domain.Snapshot{})
			p, err := s.SaveProject(ctx, domain.Project{Title: "x"})
			if err != nil {
				t.Fatalf("save: %v", err)
			}
			if len(got) != 2 || got[0].Kind != events.Replaced || got[1].Kind != events.Created || got[1].ProjectID != p.ID {
				t.Fatalf("unexpected changes %+v", got)
			}
		})
	}
}

func TestSQLIdentityRequiresUUID(t *testing.T) {
	clk := newClock()
	s := backends()[1].open(t, nil, clk.now)
	ctx := context.Background()
	if err := s.ReplaceAll(ctx, domain.Snapshot{Projects: []domain.Project{{ID: "legacy-1", Title: "old", ResponsibleID: "legacy-u"}},
		Users: []domain.User{{ID: "legacy-u", Name: "U", Username: "u", Status: domain.UserActive}}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	projects, _ := s.ListProjects(ctx)
	users, _ := s.ListUsers(ctx)
	if !isUUID(projects[0].ID) || projects[0].ResponsibleID != users[0].ID {
		t.Fatalf("expected remapped ids, got %+v / %+v", projects[0], users[0])
	}
	if _, err := s.SaveProject(ctx, domain.Project{ID: "not-a-uuid", Title: "fresh"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	projects, _ = s.ListProjects(ctx)
	if len(projects) != 2 {
		t.Fatalf("non-UUID id should insert, got %d projects", len(projects))
	}
}

func TestSQLImportSplitsSharedCommentIDs(t *testing.T) {
	clk := newClock()
	s := backends()[1].open(t, nil, clk.now)
	ctx := context.Background()
	shared := newID()
	snap := domain.Snapshot{Projects: []domain.Project{
		{ID: "p-1", Title: "one", Comments: []domain.Comment{{ID: shared, Content: "a", Timestamp: clk.now()}}},
		{ID: "p-2", Title: "two", Comments: []domain.Comment{{ID: shared, Content: "b", Timestamp: clk.now()}}},
		{ID: "p-3", Title: "three", Comments: []domain.Comment{{ID: "c-1", Content: "c", Timestamp: clk.now()}}},
		{ID: "p-4", Title: "four", Comments: []domain.Comment{{ID: "c-1", Content: "d", Timestamp: clk.now()}}},
	}}
	if err := s.ReplaceAll(ctx, snap); err != nil {
		t.Fatalf("replace: %v", err)
	}
	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 4 {
		t.Fatalf("expected 4 projects, got %d", len(projects))
	}
	ids := map[string]bool{}
	for _, p := range projects {
		if len(p.Comments) != 1 {
			t.Fatalf("project %q: expected 1 comment, got %+v", p.Title, p.Comments)
		}
		ids[p.Comments[0].ID] = true
	}
	if len(ids) != 4 {
		t.Fatalf("expected distinct comment ids, got %v", ids)
	}
}

func TestLocalKeepsCallerIDs(t *testing.T) {
	clk := newClock()
	s := backends()[0].open(t, nil, clk.now)
	ctx := context.Background()
	_ = s.ReplaceAll(ctx, domain.Snapshot{})
	u, err := s.SaveUser(ctx, domain.User{ID: "u-legacy", Name: "U", Username: "u", Status: domain.UserActive})
	if err != nil {
		t.Fatalf("save user: %v", err)
	}
	p, err := s.SaveProject(ctx, domain.Project{ID: "legacy-7", Title: "old"})
	if err != nil {
		t.Fatalf("save project: %v", err)
	}
	if u.ID != "u-legacy" || p.ID != "legacy-7" {
		t.Fatalf("expected caller ids kept, got user %q project %q", u.ID, p.ID)
	}
	if _, err := s.GetProject(ctx, "legacy-7"); err != nil {
		t.Fatalf("get by caller id: %v", err)
	}
}

func TestSeedStoresHashedPassword(t *testing.T) {
	forEach(t, func(t *testing.T, s Store, _ *clockStub) {
		users, err := s.ListUsers(context.Background())
		if err != nil {
			t.Fatalf("list users: %v", err)
		}
		if len(users) != 1 || !auth.IsHash(users[0].Password) {
			t.Fatalf("expected hashed seed password, got %q", users[0].Password)
		}
		if !auth.CheckPassword(users[0].Password, seedPassword) {
			t.Fatalf("seed password should verify")
		}
	})
}

func TestPersistErrorHint(t *testing.T) {
	err := persistErr("list projects", errors.New("SQL logic error: no such column: neighborhood (1)"))
	var pe *PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistError, got %T", err)
	}
	if !strings.Contains(pe.Hint, "neighborhood") || !strings.Contains(pe.Error(), "prosync migrate") {
		t.Fatalf("unexpected hint %q", pe.Error())
	}
	if persistErr("x", ErrNotFound) != ErrNotFound {
		t.Fatalf("not found must pass through")
	}
}
