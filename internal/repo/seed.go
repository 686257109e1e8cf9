package repo

import (
	"time"

	"prosync/internal/domain"
	"prosync/internal/engine/auth"
)

// seedPassword is the bootstrap admin secret; it is only ever stored hashed.
const seedPassword = "123"

// seedKey marks a store as initialized, by seeding or by an explicit ReplaceAll.
const seedKey = "prosync_initialized"

// Seed returns the bootstrap dataset written on first access to an empty store: an
// administrator and a welcome project.
func Seed(now time.Time) domain.Snapshot {
	now = now.UTC()
	admin := domain.User{
		ID:       newID(),
		Name:     "Administrator",
		Role:     "Coordination",
		Username: "admin",
		Password: seedHash(),
		Status:   domain.UserActive,
		IsAdmin:  true,
	}
	projectID := newID()
	done := now
	welcome := domain.Project{
		ID:              projectID,
		Title:           "Welcome to prosync",
		Description:     "A sample project. Toggle tasks to watch the weighted progress move.",
		ResponsibleID:   admin.ID,
		AssignedUserIDs: []string{admin.ID},
		Status:          domain.StatusInProgress,
		Tasks: []domain.Task{
			{ID: newID(), Title: "Site survey", Completed: true, Stage: domain.StageSurvey, CompletedAt: &done},
			{ID: newID(), Title: "Hand over to the client", Stage: domain.StageFinalization},
		},
		Comments: []domain.Comment{{
			ID:         newID(),
			ProjectID:  projectID,
			AuthorID:   admin.ID,
			AuthorName: admin.Name,
			Content:    "Project board is ready.",
			Timestamp:  now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return domain.Snapshot{
		Users:    []domain.User{admin},
		Projects: []domain.Project{welcome},
		Agenda:   []domain.AgendaItem{},
	}
}

func seedHash() string {
	h, err := auth.HashPassword(seedPassword)
	if err != nil {
		panic("repo: " + err.Error())
	}
	return h
}
