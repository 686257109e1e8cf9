package domain

import "time"

type ProjectStatus string

const (
	StatusBacklog    ProjectStatus = "BACKLOG"
	StatusInProgress ProjectStatus = "IN_PROGRESS"
	StatusReview     ProjectStatus = "REVIEW"
	StatusCompleted  ProjectStatus = "COMPLETED"
)

// ProjectStatuses lists project statuses in board order.
var ProjectStatuses = []ProjectStatus{StatusBacklog, StatusInProgress, StatusReview, StatusCompleted}

type UserStatus string

const (
	UserActive  UserStatus = "ACTIVE"
	UserBlocked UserStatus = "BLOCKED"
)

type Stage string

const (
	StageSurvey       Stage = "SURVEY"
	StagePlanning     Stage = "PLANNING"
	StageExecution    Stage = "EXECUTION"
	StageFinalization Stage = "FINALIZATION"
)

type AgendaType string

const (
	AgendaMeeting  AgendaType = "MEETING"
	AgendaVisit    AgendaType = "VISIT"
	AgendaDelivery AgendaType = "DELIVERY"
	AgendaOther    AgendaType = "OTHER"
)

type User struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Role     string     `json:"role"`
	Username string     `json:"username"`
	Password string     `json:"password,omitempty"`
	Status   UserStatus `json:"status" enum:"ACTIVE,BLOCKED"`
	IsAdmin  bool       `json:"isAdmin"`
	Avatar   string     `json:"avatar,omitempty"`
}

type Project struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	ResponsibleID   string        `json:"responsibleId"`
	AssignedUserIDs []string      `json:"assignedUserIds"`
	Status          ProjectStatus `json:"status" enum:"BACKLOG,IN_PROGRESS,REVIEW,COMPLETED"`
	Address         string        `json:"address,omitempty"`
	Number          string        `json:"number,omitempty"`
	Neighborhood    string        `json:"neighborhood,omitempty"`
	Tasks           []Task        `json:"tasks"`
	Comments        []Comment     `json:"comments"`
	CreatedAt       time.Time     `json:"createdAt" format:"date-time"`
	UpdatedAt       time.Time     `json:"updatedAt" format:"date-time"`
}

type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Completed     bool       `json:"completed"`
	Stage         Stage      `json:"stage" enum:"SURVEY,PLANNING,EXECUTION,FINALIZATION"`
	ResponsibleID string     `json:"responsibleId,omitempty"`
	Observations  string     `json:"observations"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" format:"date-time"`
}

type Comment struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp" format:"date-time"`
	TargetUserID string    `json:"targetUserId,omitempty"`
}

type AgendaItem struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Date        time.Time  `json:"date" format:"date-time"`
	Type        AgendaType `json:"type" enum:"MEETING,VISIT,DELIVERY,OTHER"`
}

// Snapshot is a complete copy of the three collections.
type Snapshot struct {
	Users      []User       `json:"users"`
	Projects   []Project    `json:"projects"`
	Agenda     []AgendaItem `json:"agenda"`
	ExportedAt time.Time    `json:"exportedAt" format:"date-time"`
}

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	for _, v := range ProjectStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserBlocked
}

func (t AgendaType) Valid() bool {
	switch t {
	case AgendaMeeting, AgendaVisit, AgendaDelivery, AgendaOther:
		return true
	}
	return false
}

// FindTask returns the index of the task with id, or -1.
func (p Project) FindTask(id string) int {
	for i, t := range p.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
