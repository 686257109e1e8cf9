package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prosync/internal/domain"
	"prosync/internal/engine/auth"
	"prosync/internal/normalize"
	"prosync/internal/repo"
	"prosync/internal/stage"
)

// Placeholders for dangling references.
const (
	RemovedUser  = "Removed user"
	Coordination = "Coordination"
)

// ValidationError reports a rejected intent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type Engine struct {
	Store  repo.Store
	Stages stage.Table
	Now    func() time.Time
}

func New(store repo.Store) Engine {
	return Engine{
		Store:  store,
		Stages: stage.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) stages() stage.Table {
	if len(e.Stages.Stages()) == 0 {
		return stage.Default()
	}
	return e.Stages
}

// ProjectInput carries the fields of a project save. Nil fields keep their stored value.
type ProjectInput struct {
	ID              string
	Title           *string
	Description     *string
	ResponsibleID   *string
	AssignedUserIDs *[]string
	Status          *domain.ProjectStatus
	Address         *string
	Number          *string
	Neighborhood    *string
	Tasks           *[]domain.Task
}

// SaveProject creates a project when in.ID is empty, otherwise merges in onto the stored one.
func (e Engine) SaveProject(ctx context.Context, in ProjectInput) (domain.Project, error) {
	var p domain.Project
	if in.ID != "" {
		stored, err := e.Store.GetProject(ctx, in.ID)
		if err != nil {
			return domain.Project{}, err
		}
		p = stored
	} else {
		p = domain.Project{Status: domain.StatusBacklog, Tasks: []domain.Task{}, Comments: []domain.Comment{}}
	}
	if in.Title != nil {
		p.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.ResponsibleID != nil {
		p.ResponsibleID = strings.TrimSpace(*in.ResponsibleID)
	}
	if in.AssignedUserIDs != nil {
		p.AssignedUserIDs = append([]string{}, (*in.AssignedUserIDs)...)
	}
	if in.Status != nil {
		p.Status = *in.Status
	}
	if in.Address != nil {
		p.Address = *in.Address
	}
	if in.Number != nil {
		p.Number = *in.Number
	}
	if in.Neighborhood != nil {
		p.Neighborhood = *in.Neighborhood
	}
	if in.Tasks != nil {
		tasks := make([]domain.Task, 0, len(*in.Tasks))
		for _, t := range *in.Tasks {
			if err := e.validateTask(t); err != nil {
				return domain.Project{}, err
			}
			tasks = append(tasks, t)
		}
		p.Tasks = tasks
	}
	if p.Title == "" {
		return domain.Project{}, invalid("title", "is required")
	}
	if !p.Status.Valid() {
		return domain.Project{}, invalid("status", "unknown status %q", p.Status)
	}
	return e.Store.SaveProject(ctx, p)
}

func (e Engine) validateTask(t domain.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return invalid("task.title", "is required")
	}
	if !e.stages().Valid(normalize.Stage(string(t.Stage))) {
		return invalid("task.stage", "unknown stage %q", t.Stage)
	}
	return nil
}

func (e Engine) DeleteProject(ctx context.Context, id string) error {
	return e.Store.DeleteProject(ctx, id)
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Store.GetProject(ctx, id)
}

func taskNotFound(id string) error {
	return fmt.Errorf("task %s: %w", id, repo.ErrNotFound)
}

// ToggleTask flips a task's completion and keeps completedAt in step.
func (e Engine) ToggleTask(ctx context.Context, projectID, taskID string) (domain.Task, error) {
	p, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	i := p.FindTask(taskID)
	if i < 0 {
		return domain.Task{}, taskNotFound(taskID)
	}
	t := &p.Tasks[i]
	t.Completed = !t.Completed
	if t.Completed {
		ts := e.now()
		t.CompletedAt = &ts
	} else {
		t.CompletedAt = nil
	}
	saved, err := e.Store.SaveProject(ctx, p)
	if err != nil {
		return domain.Task{}, err
	}
	return saved.Tasks[i], nil
}

type TaskInput struct {
	Title         string
	Stage         domain.Stage
	ResponsibleID string
	Observations  string
}

// AddTask appends a task. The responsible falls back to the project's.
func (e Engine) AddTask(ctx context.Context, projectID string, in TaskInput) (domain.Task, error) {
	t := domain.Task{
		Title:         strings.TrimSpace(in.Title),
		Stage:         normalize.Stage(string(in.Stage)),
		ResponsibleID: strings.TrimSpace(in.ResponsibleID),
		Observations:  in.Observations,
	}
	if err := e.validateTask(t); err != nil {
		return domain.Task{}, err
	}
	p, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.ResponsibleID == "" {
		t.ResponsibleID = p.ResponsibleID
	}
	p.Tasks = append(p.Tasks, t)
	saved, err := e.Store.SaveProject(ctx, p)
	if err != nil {
		return domain.Task{}, err
	}
	return saved.Tasks[len(saved.Tasks)-1], nil
}

func (e Engine) RemoveTask(ctx context.Context, projectID, taskID string) error {
	p, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	i := p.FindTask(taskID)
	if i < 0 {
		return taskNotFound(taskID)
	}
	p.Tasks = append(p.Tasks[:i], p.Tasks[i+1:]...)
	_, err = e.Store.SaveProject(ctx, p)
	return err
}

// AddComment appends to the project's comment channel, capturing the author's current name.
func (e Engine) AddComment(ctx context.Context, projectID, authorID, content, targetUserID string) (domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Comment{}, invalid("content", "is required")
	}
	users, err := e.Store.ListUsers(ctx)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		AuthorID:     authorID,
		AuthorName:   userName(users, authorID, RemovedUser),
		Content:      content,
		TargetUserID: strings.TrimSpace(targetUserID),
	}
	return e.Store.AddComment(ctx, projectID, c)
}

func (e Engine) SetStatus(ctx context.Context, projectID string, status domain.ProjectStatus) (domain.Project, error) {
	if !status.Valid() {
		return domain.Project{}, invalid("status", "unknown status %q", status)
	}
	return e.SaveProject(ctx, ProjectInput{ID: projectID, Status: &status})
}

// ProjectView is a project with its derived read model.
type ProjectView struct {
	domain.Project
	Progress        int                   `json:"progress"`
	Breakdown       []stage.StageProgress `json:"breakdown"`
	ResponsibleName string                `json:"responsibleName"`
	// TaskResponsibles maps task id to the resolved responsible name.
	TaskResponsibles map[string]string `json:"taskResponsibles"`
}

func (e Engine) ProjectView(ctx context.Context, id string) (ProjectView, error) {
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return ProjectView{}, err
	}
	users, err := e.Store.ListUsers(ctx)
	if err != nil {
		return ProjectView{}, err
	}
	return e.view(p, users), nil
}

func (e Engine) ListProjectViews(ctx context.Context) ([]ProjectView, error) {
	projects, err := e.Store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	users, err := e.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, e.view(p, users))
	}
	return out, nil
}

func (e Engine) view(p domain.Project, users []domain.User) ProjectView {
	tbl := e.stages()
	v := ProjectView{
		Project:          p,
		Progress:         tbl.WeightedProgress(p.Tasks),
		Breakdown:        tbl.Breakdown(p.Tasks),
		ResponsibleName:  userName(users, p.ResponsibleID, RemovedUser),
		TaskResponsibles: make(map[string]string, len(p.Tasks)),
	}
	for _, t := range p.Tasks {
		v.TaskResponsibles[t.ID] = taskResponsible(users, t, p)
	}
	return v
}

// taskResponsible resolves task responsible, then project responsible, then the
// coordination placeholder.
func taskResponsible(users []domain.User, t domain.Task, p domain.Project) string {
	for _, id := range []string{t.ResponsibleID, p.ResponsibleID} {
		if id == "" {
			continue
		}
		if name := userName(users, id, ""); name != "" {
			return name
		}
	}
	return Coordination
}

func userName(users []domain.User, id, fallback string) string {
	if id == "" {
		return fallback
	}
	for _, u := range users {
		if u.ID == id {
			return u.Name
		}
	}
	return fallback
}

type Stats struct {
	TotalProjects int                          `json:"totalProjects"`
	Members       int                          `json:"members"`
	ByStatus      map[domain.ProjectStatus]int `json:"byStatus"`
}

func (e Engine) Stats(ctx context.Context) (Stats, error) {
	projects, err := e.Store.ListProjects(ctx)
	if err != nil {
		return Stats{}, err
	}
	users, err := e.Store.ListUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{TotalProjects: len(projects), ByStatus: make(map[domain.ProjectStatus]int, len(domain.ProjectStatuses))}
	for _, st := range domain.ProjectStatuses {
		s.ByStatus[st] = 0
	}
	for _, p := range projects {
		s.ByStatus[p.Status]++
	}
	for _, u := range users {
		if u.Status == domain.UserActive {
			s.Members++
		}
	}
	return s, nil
}

// UserInput carries a user save. An empty Password keeps the stored secret.
type UserInput struct {
	ID       string
	Name     string
	Role     string
	Username string
	Password string
	Status   domain.UserStatus
	IsAdmin  bool
	Avatar   string
}

// ListUsers returns users without their secrets.
func (e Engine) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := e.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Password = ""
	}
	return users, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	users, err := e.Store.ListUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range users {
		if u.ID == id {
			u.Password = ""
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("user %s: %w", id, repo.ErrNotFound)
}

func (e Engine) SaveUser(ctx context.Context, in UserInput) (domain.User, error) {
	u := domain.User{
		ID:       in.ID,
		Name:     strings.TrimSpace(in.Name),
		Role:     strings.TrimSpace(in.Role),
		Username: strings.TrimSpace(in.Username),
		Status:   in.Status,
		IsAdmin:  in.IsAdmin,
		Avatar:   in.Avatar,
	}
	if u.Status == "" {
		u.Status = domain.UserActive
	}
	if !u.Status.Valid() {
		return domain.User{}, invalid("status", "unknown status %q", u.Status)
	}
	if u.Name == "" {
		return domain.User{}, invalid("name", "is required")
	}
	if u.Username == "" {
		return domain.User{}, invalid("username", "is required")
	}
	secret := in.Password
	if in.ID != "" {
		users, err := e.Store.ListUsers(ctx)
		if err != nil {
			return domain.User{}, err
		}
		found := false
		for _, existing := range users {
			if existing.ID == in.ID {
				found = true
				if secret == "" {
					secret = existing.Password
				}
				break
			}
		}
		if !found {
			return domain.User{}, fmt.Errorf("user %s: %w", in.ID, repo.ErrNotFound)
		}
	}
	if secret == "" {
		return domain.User{}, invalid("password", "is required")
	}
	if !auth.IsHash(secret) {
		hashed, err := auth.HashPassword(secret)
		if err != nil {
			return domain.User{}, err
		}
		secret = hashed
	}
	u.Password = secret
	saved, err := e.Store.SaveUser(ctx, u)
	if err != nil {
		return domain.User{}, err
	}
	saved.Password = ""
	return saved, nil
}

func (e Engine) DeleteUser(ctx context.Context, id string) error {
	return e.Store.DeleteUser(ctx, id)
}

// Login authenticates against the store.
func (e Engine) Login(ctx context.Context, username, password string) (domain.User, error) {
	u, err := auth.Login(ctx, e.Store, username, password)
	if err != nil {
		return domain.User{}, err
	}
	u.Password = ""
	return u, nil
}

// ListAgenda returns agenda items, restricted to userID when set.
func (e Engine) ListAgenda(ctx context.Context, userID string) ([]domain.AgendaItem, error) {
	items, err := e.Store.ListAgenda(ctx)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return items, nil
	}
	out := make([]domain.AgendaItem, 0, len(items))
	for _, it := range items {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (e Engine) SaveAgendaItem(ctx context.Context, it domain.AgendaItem) (domain.AgendaItem, error) {
	it.Title = strings.TrimSpace(it.Title)
	if it.Title == "" {
		return domain.AgendaItem{}, invalid("title", "is required")
	}
	if it.UserID == "" {
		return domain.AgendaItem{}, invalid("userId", "is required")
	}
	if it.Date.IsZero() {
		return domain.AgendaItem{}, invalid("date", "is required")
	}
	if it.Type == "" {
		it.Type = domain.AgendaOther
	}
	if !it.Type.Valid() {
		return domain.AgendaItem{}, invalid("type", "unknown type %q", it.Type)
	}
	return e.Store.SaveAgendaItem(ctx, it)
}

func (e Engine) DeleteAgendaItem(ctx context.Context, id string) error {
	return e.Store.DeleteAgendaItem(ctx, id)
}

// IsValidation reports whether err is a rejected intent.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
