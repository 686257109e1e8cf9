package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"prosync/internal/db"
	"prosync/internal/domain"
	"prosync/internal/engine"
	"prosync/internal/engine/auth"
	"prosync/internal/migrate"
	"prosync/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := repo.NewLocal(conn, nil)
	eng := engine.New(store)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	store.Now = eng.Now
	ctx := context.Background()
	if err := store.ReplaceAll(ctx, domain.Snapshot{}); err != nil {
		t.Fatalf("reset store: %v", err)
	}
	admin, err := eng.SaveUser(ctx, engine.UserInput{Name: "Ana", Username: "ana", Password: "pw", IsAdmin: true})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Admin: admin}
}

func str(s string) *string { return &s }

func TestSaveProjectCreateAndMerge(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{Title: str("Casa"), ResponsibleID: str(env.Admin.ID), Address: str("Rua A")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != domain.StatusBacklog || len(p.Tasks) != 0 || len(p.Comments) != 0 {
		t.Fatalf("unexpected new project %+v", p)
	}
	updated, err := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{ID: p.ID, Description: str("desc")})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if updated.Title != "Casa" || updated.Address != "Rua A" || updated.Description != "desc" {
		t.Fatalf("merge lost fields: %+v", updated)
	}
	if _, err := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{Title: str("  ")}); !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	bad := domain.ProjectStatus("DONE")
	if _, err := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{ID: p.ID, Status: &bad}); !engine.IsValidation(err) {
		t.Fatalf("expected status validation error, got %v", err)
	}
	if _, err := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{ID: "missing", Title: str("x")}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTaskIntentsDriveProgress(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{Title: str("Obra"), ResponsibleID: str(env.Admin.ID)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	survey, err := env.Engine.AddTask(env.Ctx, p.ID, engine.TaskInput{Title: "Levantamento", Stage: "LEVANTAMENTO"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if survey.Stage != domain.StageSurvey || survey.ResponsibleID != env.Admin.ID {
		t.Fatalf("unexpected task %+v", survey)
	}
	exec1, _ := env.Engine.AddTask(env.Ctx, p.ID, engine.TaskInput{Title: "a", Stage: domain.StageExecution})
	if _, err := env.Engine.AddTask(env.Ctx, p.ID, engine.TaskInput{Title: "b", Stage: domain.StageExecution}); err != nil {
		t.Fatalf("add task: %v", err)
	}
	if _, err := env.Engine.AddTask(env.Ctx, p.ID, engine.TaskInput{Title: "c", Stage: "BOGUS"}); !engine.IsValidation(err) {
		t.Fatalf("expected stage validation error, got %v", err)
	}

	toggled, err := env.Engine.ToggleTask(env.Ctx, p.ID, survey.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !toggled.Completed || toggled.CompletedAt == nil {
		t.Fatalf("expected completed task with timestamp, got %+v", toggled)
	}
	if _, err := env.Engine.ToggleTask(env.Ctx, p.ID, exec1.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	view, err := env.Engine.ProjectView(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	// survey 10 + execution 12.5 = 22.5 -> 23
	if view.Progress != 23 {
		t.Fatalf("expected progress 23, got %d", view.Progress)
	}
	if view.ResponsibleName != "Ana" || view.TaskResponsibles[survey.ID] != "Ana" {
		t.Fatalf("unexpected names %+v", view)
	}

	reopened, err := env.Engine.ToggleTask(env.Ctx, p.ID, survey.ID)
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if reopened.Completed || reopened.CompletedAt != nil {
		t.Fatalf("expected reopened task without timestamp, got %+v", reopened)
	}
	if err := env.Engine.RemoveTask(env.Ctx, p.ID, survey.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := env.Engine.RemoveTask(env.Ctx, p.ID, survey.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.ToggleTask(env.Ctx, p.ID, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommentsCaptureAuthorName(t *testing.T) {
	env := newTestEnv(t)
	p, _ := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{Title: str("x")})
	c, err := env.Engine.AddComment(env.Ctx, p.ID, env.Admin.ID, "  olá  ", "")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if c.AuthorName != "Ana" || c.Content != "olá" {
		t.Fatalf("unexpected comment %+v", c)
	}
	ghost, err := env.Engine.AddComment(env.Ctx, p.ID, "gone", "hi", env.Admin.ID)
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if ghost.AuthorName != engine.RemovedUser || ghost.TargetUserID != env.Admin.ID {
		t.Fatalf("unexpected comment %+v", ghost)
	}
	if _, err := env.Engine.AddComment(env.Ctx, p.ID, env.Admin.ID, " ", ""); !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// a later save keeps the channel intact
	if _, err := env.Engine.SetStatus(env.Ctx, p.ID, domain.StatusReview); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _ := env.Engine.GetProject(env.Ctx, p.ID)
	if len(got.Comments) != 2 || got.Status != domain.StatusReview {
		t.Fatalf("unexpected project %+v", got)
	}
}

func TestViewPlaceholders(t *testing.T) {
	env := newTestEnv(t)
	tasks := []domain.Task{{Title: "orphan", Stage: domain.StagePlanning}}
	p, err := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{Title: str("x"), ResponsibleID: str("deleted-user"), Tasks: &tasks})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	view, err := env.Engine.ProjectView(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.ResponsibleName != engine.RemovedUser {
		t.Fatalf("expected removed-user placeholder, got %q", view.ResponsibleName)
	}
	if view.TaskResponsibles[p.Tasks[0].ID] != engine.Coordination {
		t.Fatalf("expected coordination placeholder, got %q", view.TaskResponsibles[p.Tasks[0].ID])
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	for _, title := range []string{"a", "b"} {
		if _, err := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{Title: str(title)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	p, _ := env.Engine.SaveProject(env.Ctx, engine.ProjectInput{Title: str("c")})
	if _, err := env.Engine.SetStatus(env.Ctx, p.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := env.Engine.SaveUser(env.Ctx, engine.UserInput{Name: "Blocked", Username: "blk", Password: "x", Status: domain.UserBlocked}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	st, err := env.Engine.Stats(env.Ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalProjects != 3 || st.Members != 1 || st.ByStatus[domain.StatusBacklog] != 2 || st.ByStatus[domain.StatusCompleted] != 1 || st.ByStatus[domain.StatusReview] != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestUsersHashAndLogin(t *testing.T) {
	env := newTestEnv(t)
	users, err := env.Engine.ListUsers(env.Ctx)
	if err != nil || len(users) != 1 || users[0].Password != "" {
		t.Fatalf("list users should hide secrets: %v %+v", err, users)
	}
	stored, _ := env.Engine.Store.ListUsers(env.Ctx)
	if !auth.IsHash(stored[0].Password) {
		t.Fatalf("expected bcrypt hash, got %q", stored[0].Password)
	}
	if _, err := env.Engine.Login(env.Ctx, "ANA", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	renamed, err := env.Engine.SaveUser(env.Ctx, engine.UserInput{ID: env.Admin.ID, Name: "Ana Maria", Username: "ana", IsAdmin: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if renamed.Name != "Ana Maria" {
		t.Fatalf("unexpected user %+v", renamed)
	}
	if _, err := env.Engine.Login(env.Ctx, "ana", "pw"); err != nil {
		t.Fatalf("password should survive an update without one: %v", err)
	}
	if _, err := env.Engine.SaveUser(env.Ctx, engine.UserInput{Name: "Dup", Username: "Ana", Password: "x"}); err == nil {
		t.Fatalf("expected username conflict")
	}
	if _, err := env.Engine.SaveUser(env.Ctx, engine.UserInput{Name: "No secret", Username: "nos"}); !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := env.Engine.DeleteUser(env.Ctx, env.Admin.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "ana", "pw"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestAgenda(t *testing.T) {
	env := newTestEnv(t)
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	it, err := env.Engine.SaveAgendaItem(env.Ctx, domain.AgendaItem{UserID: env.Admin.ID, Title: "Visit", Date: day, Type: domain.AgendaVisit})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.Engine.SaveAgendaItem(env.Ctx, domain.AgendaItem{UserID: "other", Title: "Other", Date: day}); err != nil {
		t.Fatalf("save: %v", err)
	}
	mine, err := env.Engine.ListAgenda(env.Ctx, env.Admin.ID)
	if err != nil || len(mine) != 1 || mine[0].ID != it.ID {
		t.Fatalf("unexpected agenda %v %+v", err, mine)
	}
	all, _ := env.Engine.ListAgenda(env.Ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 items, got %d", len(all))
	}
	if _, err := env.Engine.SaveAgendaItem(env.Ctx, domain.AgendaItem{UserID: env.Admin.ID, Title: "x"}); !engine.IsValidation(err) {
		t.Fatalf("expected date validation, got %v", err)
	}
	if err := env.Engine.DeleteAgendaItem(env.Ctx, it.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
