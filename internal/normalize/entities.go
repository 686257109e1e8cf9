package normalize

import (
	"encoding/json"
	"errors"
	"strings"

	"prosync/internal/domain"
)

// Legacy labels written by earlier clients.
var (
	projectStatusAliases = map[string]domain.ProjectStatus{
		"EM ANDAMENTO": domain.StatusInProgress,
		"REVISÃO":      domain.StatusReview,
		"REVISAO":      domain.StatusReview,
		"CONCLUÍDO":    domain.StatusCompleted,
		"CONCLUIDO":    domain.StatusCompleted,
	}
	userStatusAliases = map[string]domain.UserStatus{
		"ATIVO":     domain.UserActive,
		"BLOQUEADO": domain.UserBlocked,
	}
	stageAliases = map[string]domain.Stage{
		"LEVANTAMENTO": domain.StageSurvey,
		"PLANEJAMENTO": domain.StagePlanning,
		"EXECUÇÃO":     domain.StageExecution,
		"EXECUCAO":     domain.StageExecution,
		"FINALIZAÇÃO":  domain.StageFinalization,
		"FINALIZACAO":  domain.StageFinalization,
	}
	agendaTypeAliases = map[string]domain.AgendaType{
		"REUNIAO": domain.AgendaMeeting,
		"REUNIÃO": domain.AgendaMeeting,
		"VISITA":  domain.AgendaVisit,
		"ENTREGA": domain.AgendaDelivery,
		"OUTRO":   domain.AgendaOther,
	}
)

func label(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "-", "_")
}

// ProjectStatus maps a raw label to a status, defaulting to BACKLOG.
func ProjectStatus(s string) domain.ProjectStatus {
	l := label(s)
	if st := domain.ProjectStatus(l); st.Valid() {
		return st
	}
	if st := domain.ProjectStatus(strings.ReplaceAll(l, " ", "_")); st.Valid() {
		return st
	}
	if st, ok := projectStatusAliases[l]; ok {
		return st
	}
	return domain.StatusBacklog
}

func UserStatus(s string) domain.UserStatus {
	l := label(s)
	if st := domain.UserStatus(l); st.Valid() {
		return st
	}
	if st, ok := userStatusAliases[l]; ok {
		return st
	}
	return domain.UserActive
}

// Stage maps a raw label to a stage. Unknown labels pass through unchanged so the
// progress calculator can ignore them.
func Stage(s string) domain.Stage {
	l := label(s)
	if st, ok := stageAliases[l]; ok {
		return st
	}
	return domain.Stage(l)
}

func AgendaType(s string) domain.AgendaType {
	l := label(s)
	if t := domain.AgendaType(l); t.Valid() {
		return t
	}
	if t, ok := agendaTypeAliases[l]; ok {
		return t
	}
	return domain.AgendaOther
}

func UserFromMap(m map[string]any) domain.User {
	r := fold(m)
	return domain.User{
		ID:       r.str("id"),
		Name:     r.str("name"),
		Role:     r.str("role"),
		Username: r.str("username"),
		Password: r.str("password"),
		Status:   UserStatus(r.str("status")),
		IsAdmin:  r.boolean("isAdmin"),
		Avatar:   r.str("avatar"),
	}
}

func TaskFromMap(m map[string]any) domain.Task {
	r := fold(m)
	t := domain.Task{
		ID:            r.str("id"),
		Title:         r.str("title"),
		Completed:     r.boolean("completed"),
		Stage:         Stage(r.str("stage")),
		ResponsibleID: r.str("responsibleId"),
		Observations:  r.str("observations"),
	}
	if ts, ok := r.timestamp("completedAt"); ok && t.Completed {
		t.CompletedAt = &ts
	}
	return t
}

func CommentFromMap(m map[string]any, projectID string) domain.Comment {
	r := fold(m)
	c := domain.Comment{
		ID:           r.str("id"),
		ProjectID:    r.str("projectId"),
		AuthorID:     r.str("authorId"),
		AuthorName:   r.str("authorName"),
		Content:      r.str("content"),
		TargetUserID: r.str("targetUserId"),
	}
	if c.ProjectID == "" {
		c.ProjectID = projectID
	}
	c.Timestamp, _ = r.timestamp("timestamp")
	return c
}

func ProjectFromMap(m map[string]any) (domain.Project, error) {
	r := fold(m)
	p := domain.Project{
		ID:              r.str("id"),
		Title:           r.str("title"),
		Description:     r.str("description"),
		ResponsibleID:   r.str("responsibleId"),
		AssignedUserIDs: r.list("assignedUserIds"),
		Status:          ProjectStatus(r.str("status")),
		Address:         r.str("address"),
		Number:          r.str("number"),
		Neighborhood:    r.str("neighborhood"),
		Tasks:           []domain.Task{},
		Comments:        []domain.Comment{},
	}
	p.CreatedAt, _ = r.timestamp("createdAt")
	p.UpdatedAt, _ = r.timestamp("updatedAt")
	tasks, err := r.objects("tasks")
	if err != nil {
		return p, err
	}
	for _, tm := range tasks {
		p.Tasks = append(p.Tasks, TaskFromMap(tm))
	}
	comments, err := r.objects("comments")
	if err != nil {
		return p, err
	}
	for _, cm := range comments {
		p.Comments = append(p.Comments, CommentFromMap(cm, p.ID))
	}
	return p, nil
}

func AgendaFromMap(m map[string]any) domain.AgendaItem {
	r := fold(m)
	it := domain.AgendaItem{
		ID:          r.str("id"),
		UserID:      r.str("userId"),
		Title:       r.str("title"),
		Description: r.str("description"),
		Type:        AgendaType(r.str("type")),
	}
	it.Date, _ = r.timestamp("date")
	return it
}

// UserToMap returns the canonical record for u. Timestamps stay time.Time until Dehydrate.
func UserToMap(u domain.User) map[string]any {
	m := map[string]any{
		"id":       u.ID,
		"name":     u.Name,
		"role":     u.Role,
		"username": u.Username,
		"status":   string(u.Status),
		"isAdmin":  u.IsAdmin,
		"avatar":   u.Avatar,
	}
	if u.Password != "" {
		m["password"] = u.Password
	}
	return m
}

func TaskToMap(t domain.Task) map[string]any {
	m := map[string]any{
		"id":           t.ID,
		"title":        t.Title,
		"completed":    t.Completed,
		"stage":        string(t.Stage),
		"observations": t.Observations,
	}
	if t.ResponsibleID != "" {
		m["responsibleId"] = t.ResponsibleID
	}
	if t.CompletedAt != nil {
		m["completedAt"] = *t.CompletedAt
	}
	return m
}

func CommentToMap(c domain.Comment) map[string]any {
	m := map[string]any{
		"id":         c.ID,
		"projectId":  c.ProjectID,
		"authorId":   c.AuthorID,
		"authorName": c.AuthorName,
		"content":    c.Content,
		"timestamp":  c.Timestamp,
	}
	if c.TargetUserID != "" {
		m["targetUserId"] = c.TargetUserID
	}
	return m
}

func ProjectToMap(p domain.Project) map[string]any {
	tasks := make([]any, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks = append(tasks, TaskToMap(t))
	}
	comments := make([]any, 0, len(p.Comments))
	for _, c := range p.Comments {
		comments = append(comments, CommentToMap(c))
	}
	assigned := make([]any, 0, len(p.AssignedUserIDs))
	for _, id := range p.AssignedUserIDs {
		assigned = append(assigned, id)
	}
	return map[string]any{
		"id":              p.ID,
		"title":           p.Title,
		"description":     p.Description,
		"responsibleId":   p.ResponsibleID,
		"assignedUserIds": assigned,
		"status":          string(p.Status),
		"address":         p.Address,
		"number":          p.Number,
		"neighborhood":    p.Neighborhood,
		"tasks":           tasks,
		"comments":        comments,
		"createdAt":       p.CreatedAt,
		"updatedAt":       p.UpdatedAt,
	}
}

func AgendaToMap(it domain.AgendaItem) map[string]any {
	m := map[string]any{
		"id":     it.ID,
		"userId": it.UserID,
		"title":  it.Title,
		"date":   it.Date,
		"type":   string(it.Type),
	}
	if it.Description != "" {
		m["description"] = it.Description
	}
	return m
}

// DecodeUsers hydrates a stored JSON list of users.
func DecodeUsers(data []byte) ([]domain.User, error) {
	items, err := decodeList(data)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(items))
	for _, m := range items {
		out = append(out, UserFromMap(m))
	}
	return out, nil
}

func DecodeProjects(data []byte) ([]domain.Project, error) {
	items, err := decodeList(data)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(items))
	for _, m := range items {
		p, err := ProjectFromMap(m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func DecodeAgenda(data []byte) ([]domain.AgendaItem, error) {
	items, err := decodeList(data)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AgendaItem, 0, len(items))
	for _, m := range items {
		out = append(out, AgendaFromMap(m))
	}
	return out, nil
}

func decodeList(data []byte) ([]map[string]any, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, invalid("invalid json: %v", err)
	}
	return fold(map[string]any{"items": v}).objects("items")
}

// EncodeUsers renders users in their storage representation.
func EncodeUsers(users []domain.User) ([]byte, error) {
	out := make([]any, 0, len(users))
	for _, u := range users {
		out = append(out, UserToMap(u))
	}
	return json.Marshal(Dehydrate(out))
}

func EncodeProjects(projects []domain.Project) ([]byte, error) {
	out := make([]any, 0, len(projects))
	for _, p := range projects {
		out = append(out, ProjectToMap(p))
	}
	return json.Marshal(Dehydrate(out))
}

func EncodeAgenda(items []domain.AgendaItem) ([]byte, error) {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, AgendaToMap(it))
	}
	return json.Marshal(Dehydrate(out))
}

// DecodeSnapshot parses a backup document. Missing collections decode as empty.
func DecodeSnapshot(data []byte) (domain.Snapshot, error) {
	snap := domain.Snapshot{Users: []domain.User{}, Projects: []domain.Project{}, Agenda: []domain.AgendaItem{}}
	v, err := Decode(data)
	if err != nil {
		return snap, corrupt(invalid("invalid json: %v", err))
	}
	root, ok := v.(map[string]any)
	if !ok {
		return snap, corrupt(invalid("document root is not an object"))
	}
	r := fold(root)
	users, err := r.objects("users")
	if err != nil {
		return snap, corrupt(err)
	}
	for _, m := range users {
		snap.Users = append(snap.Users, UserFromMap(m))
	}
	projects, err := r.objects("projects")
	if err != nil {
		return snap, corrupt(err)
	}
	for _, m := range projects {
		p, err := ProjectFromMap(m)
		if err != nil {
			return snap, corrupt(err)
		}
		snap.Projects = append(snap.Projects, p)
	}
	agenda, err := r.objects("agenda")
	if err != nil {
		return snap, corrupt(err)
	}
	for _, m := range agenda {
		snap.Agenda = append(snap.Agenda, AgendaFromMap(m))
	}
	snap.ExportedAt, _ = r.timestamp("exportedAt")
	return snap, nil
}

// EncodeSnapshot renders s as an indented backup document.
func EncodeSnapshot(s domain.Snapshot) ([]byte, error) {
	users := make([]any, 0, len(s.Users))
	for _, u := range s.Users {
		users = append(users, UserToMap(u))
	}
	projects := make([]any, 0, len(s.Projects))
	for _, p := range s.Projects {
		projects = append(projects, ProjectToMap(p))
	}
	agenda := make([]any, 0, len(s.Agenda))
	for _, it := range s.Agenda {
		agenda = append(agenda, AgendaToMap(it))
	}
	doc := map[string]any{
		"users":      users,
		"projects":   projects,
		"agenda":     agenda,
		"exportedAt": s.ExportedAt,
	}
	return json.MarshalIndent(Dehydrate(doc), "", "  ")
}

func corrupt(err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Message: "corrupt backup: " + ve.Message}
	}
	return err
}
