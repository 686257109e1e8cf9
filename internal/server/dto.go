package server

import (
	"time"

	"prosync/internal/domain"
	"prosync/internal/engine"
)

// Request payloads

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

type UserRequest struct {
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Status   string `json:"status,omitempty" enum:"ACTIVE,BLOCKED"`
	IsAdmin  bool   `json:"isAdmin,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type TaskRequest struct {
	ID            string     `json:"id,omitempty"`
	Title         string     `json:"title"`
	Completed     bool       `json:"completed,omitempty"`
	Stage         string     `json:"stage" enum:"SURVEY,PLANNING,EXECUTION,FINALIZATION"`
	ResponsibleID string     `json:"responsibleId,omitempty"`
	Observations  string     `json:"observations,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" format:"date-time"`
}

type ProjectRequest struct {
	Title           *string        `json:"title,omitempty"`
	Description     *string        `json:"description,omitempty"`
	ResponsibleID   *string        `json:"responsibleId,omitempty"`
	AssignedUserIDs *[]string      `json:"assignedUserIds,omitempty"`
	Status          *string        `json:"status,omitempty" enum:"BACKLOG,IN_PROGRESS,REVIEW,COMPLETED"`
	Address         *string        `json:"address,omitempty"`
	Number          *string        `json:"number,omitempty"`
	Neighborhood    *string        `json:"neighborhood,omitempty"`
	Tasks           *[]TaskRequest `json:"tasks,omitempty"`
}

type AddTaskRequest struct {
	Title         string `json:"title"`
	Stage         string `json:"stage" enum:"SURVEY,PLANNING,EXECUTION,FINALIZATION"`
	ResponsibleID string `json:"responsibleId,omitempty"`
	Observations  string `json:"observations,omitempty"`
}

type CommentRequest struct {
	Content      string `json:"content"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status" enum:"BACKLOG,IN_PROGRESS,REVIEW,COMPLETED"`
}

type AgendaRequest struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Date        time.Time `json:"date" format:"date-time"`
	Type        string    `json:"type,omitempty" enum:"MEETING,VISIT,DELIVERY,OTHER"`
}

// Response payloads

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt" format:"date-time"`
	User      domain.User `json:"user"`
}

type ProjectResponse = engine.ProjectView

type SummaryResponse struct {
	Users    int `json:"users"`
	Projects int `json:"projects"`
	Agenda   int `json:"agenda"`
}

type ExportResponse struct {
	Location string `json:"location"`
}

type PushResponse struct {
	Direct      bool   `json:"direct"`
	Location    string `json:"location,omitempty"`
	DirectError string `json:"directError,omitempty"`
}

func (r UserRequest) input(id string) engine.UserInput {
	return engine.UserInput{
		ID:       id,
		Name:     r.Name,
		Role:     r.Role,
		Username: r.Username,
		Password: r.Password,
		Status:   domain.UserStatus(r.Status),
		IsAdmin:  r.IsAdmin,
		Avatar:   r.Avatar,
	}
}

func (r ProjectRequest) input(id string) engine.ProjectInput {
	in := engine.ProjectInput{
		ID:              id,
		Title:           r.Title,
		Description:     r.Description,
		ResponsibleID:   r.ResponsibleID,
		AssignedUserIDs: r.AssignedUserIDs,
		Address:         r.Address,
		Number:          r.Number,
		Neighborhood:    r.Neighborhood,
	}
	if r.Status != nil {
		st := domain.ProjectStatus(*r.Status)
		in.Status = &st
	}
	if r.Tasks != nil {
		tasks := make([]domain.Task, 0, len(*r.Tasks))
		for _, t := range *r.Tasks {
			tasks = append(tasks, domain.Task{
				ID:            t.ID,
				Title:         t.Title,
				Completed:     t.Completed,
				Stage:         domain.Stage(t.Stage),
				ResponsibleID: t.ResponsibleID,
				Observations:  t.Observations,
				CompletedAt:   t.CompletedAt,
			})
		}
		in.Tasks = &tasks
	}
	return in
}

func (r AgendaRequest) item() domain.AgendaItem {
	return domain.AgendaItem{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		Date:        r.Date,
		Type:        domain.AgendaType(r.Type),
	}
}

// jsonBody wraps a JSON request or response body for huma.
type jsonBody[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *jsonBody[T] {
	return &jsonBody[T]{Body: v}
}
