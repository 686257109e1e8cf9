package repo

import (
	"context"
	"database/sql"
	"time"

	"prosync/internal/domain"
	"prosync/internal/events"
	"prosync/internal/normalize"
)

// SQL stores the collections in normalized tables. Identity is a UUID; anything else is
// treated as a new record.
type SQL struct {
	DB     *sql.DB
	Now    func() time.Time
	Events events.Publisher
}

func NewSQL(db *sql.DB, pub events.Publisher) *SQL {
	return &SQL{DB: db, Now: time.Now, Events: pub}
}

func (r *SQL) Close() error {
	return r.DB.Close()
}

type queryer interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQL) ensureSeeded(ctx context.Context) error {
	_, ok, err := getKV(ctx, r.DB, seedKey)
	if err != nil {
		return persistErr("read seed marker", err)
	}
	if ok {
		return nil
	}
	var users, projects int
	if err := r.DB.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM users), (SELECT COUNT(*) FROM projects)`).Scan(&users, &projects); err != nil {
		return persistErr("count rows", err)
	}
	now := clock(r.Now)
	if users > 0 || projects > 0 {
		return persistErr("write seed marker", putKV(ctx, r.DB, seedKey, []byte("true"), now))
	}
	return r.replace(ctx, Seed(now), now)
}

func (r *SQL) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := r.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	users, err := listUsers(ctx, r.DB)
	if err != nil {
		return nil, persistErr("list users", err)
	}
	sortUsers(users)
	return users, nil
}

func listUsers(ctx context.Context, q queryer) ([]domain.User, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,name,role,username,COALESCE(password,''),status,is_admin,COALESCE(avatar,'') FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		var status string
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.Username, &u.Password, &status, &u.IsAdmin, &u.Avatar); err != nil {
			return nil, err
		}
		u.Status = normalize.UserStatus(status)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *SQL) SaveUser(ctx context.Context, u domain.User) (domain.User, error) {
	if err := r.ensureSeeded(ctx); err != nil {
		return domain.User{}, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, persistErr("begin save user", err)
	}
	defer tx.Rollback()
	users, err := listUsers(ctx, tx)
	if err != nil {
		return domain.User{}, persistErr("list users", err)
	}
	u = prepareUser(u)
	kind := events.Created
	if isUUID(u.ID) && containsUser(users, u.ID) {
		kind = events.Updated
	} else {
		u.ID = newID()
	}
	if err := checkUsername(users, u); err != nil {
		return domain.User{}, err
	}
	if err := upsertUser(ctx, tx, u); err != nil {
		return domain.User{}, persistErr("save user", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, persistErr("commit user", err)
	}
	publish(r.Events, events.Change{Kind: kind, Entity: events.EntityUser, EntityID: u.ID})
	return u, nil
}

func containsUser(users []domain.User, id string) bool {
	for _, u := range users {
		if u.ID == id {
			return true
		}
	}
	return false
}

func upsertUser(ctx context.Context, q execer, u domain.User) error {
	_, err := q.ExecContext(ctx, `INSERT INTO users(id,name,role,username,password,status,is_admin,avatar) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, username=excluded.username, password=excluded.password,
status=excluded.status, is_admin=excluded.is_admin, avatar=excluded.avatar`,
		u.ID, u.Name, u.Role, u.Username, nullable(u.Password), string(u.Status), u.IsAdmin, nullable(u.Avatar))
	return err
}

func (r *SQL) DeleteUser(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return persistErr("delete user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	publish(r.Events, events.Change{Kind: events.Deleted, Entity: events.EntityUser, EntityID: id})
	return nil
}

func (r *SQL) ListProjects(ctx context.Context) ([]domain.Project, error) {
	if err := r.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	projects, err := loadProjects(ctx, r.DB, "")
	if err != nil {
		return nil, persistErr("list projects", err)
	}
	sortProjects(projects)
	return projects, nil
}

func (r *SQL) GetProject(ctx context.Context, id string) (domain.Project, error) {
	if err := r.ensureSeeded(ctx); err != nil {
		return domain.Project{}, err
	}
	p, err := getProject(ctx, r.DB, id)
	if err != nil {
		return domain.Project{}, persistErr("get project", err)
	}
	return p, nil
}

func getProject(ctx context.Context, q queryer, id string) (domain.Project, error) {
	projects, err := loadProjects(ctx, q, id)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	return projects[0], nil
}

// loadProjects reads projects with their children; an empty id loads all of them.
func loadProjects(ctx context.Context, q queryer, id string) ([]domain.Project, error) {
	where, args := "", []any{}
	if id != "" {
		where, args = " WHERE project_id=?", []any{id}
	}
	query := `SELECT id,title,description,COALESCE(responsible_id,''),status,COALESCE(address,''),COALESCE(number,''),COALESCE(neighborhood,''),created_at,updated_at FROM projects`
	if id != "" {
		query += ` WHERE id=?`
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var projects []domain.Project
	index := map[string]int{}
	for rows.Next() {
		var p domain.Project
		var status, createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.ResponsibleID, &status, &p.Address, &p.Number, &p.Neighborhood, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		p.Status = normalize.ProjectStatus(status)
		p.CreatedAt, _ = normalize.ParseTime(createdAt)
		p.UpdatedAt, _ = normalize.ParseTime(updatedAt)
		p.AssignedUserIDs = []string{}
		p.Tasks = []domain.Task{}
		p.Comments = []domain.Comment{}
		index[p.ID] = len(projects)
		projects = append(projects, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return []domain.Project{}, nil
	}

	rows, err = q.QueryContext(ctx, `SELECT project_id,user_id FROM project_assignees`+where+` ORDER BY project_id, position`, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var pid, uid string
		if err := rows.Scan(&pid, &uid); err != nil {
			rows.Close()
			return nil, err
		}
		if i, ok := index[pid]; ok {
			projects[i].AssignedUserIDs = append(projects[i].AssignedUserIDs, uid)
		}
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `SELECT project_id,id,title,completed,stage,COALESCE(responsible_id,''),observations,completed_at FROM tasks`+where+` ORDER BY project_id, position`, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var pid, stage string
		var t domain.Task
		var completedAt sql.NullString
		if err := rows.Scan(&pid, &t.ID, &t.Title, &t.Completed, &stage, &t.ResponsibleID, &t.Observations, &completedAt); err != nil {
			rows.Close()
			return nil, err
		}
		t.Stage = normalize.Stage(stage)
		if completedAt.Valid {
			if ts, ok := normalize.ParseTime(completedAt.String); ok {
				t.CompletedAt = &ts
			}
		}
		if i, ok := index[pid]; ok {
			projects[i].Tasks = append(projects[i].Tasks, t)
		}
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `SELECT project_id,id,author_id,author_name,content,timestamp,COALESCE(target_user_id,'') FROM comments`+where, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c domain.Comment
		var ts string
		if err := rows.Scan(&c.ProjectID, &c.ID, &c.AuthorID, &c.AuthorName, &c.Content, &ts, &c.TargetUserID); err != nil {
			rows.Close()
			return nil, err
		}
		c.Timestamp, _ = normalize.ParseTime(ts)
		if i, ok := index[c.ProjectID]; ok {
			projects[i].Comments = append(projects[i].Comments, c)
		}
	}
	rows.Close()
	for i := range projects {
		sortComments(projects[i].Comments)
	}
	return projects, rows.Err()
}

func (r *SQL) SaveProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	if err := r.ensureSeeded(ctx); err != nil {
		return domain.Project{}, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, persistErr("begin save project", err)
	}
	defer tx.Rollback()
	now := clock(r.Now)
	kind := events.Created
	var existing *domain.Project
	if isUUID(p.ID) {
		stored, err := getProject(ctx, tx, p.ID)
		switch {
		case err == nil:
			existing = &stored
			kind = events.Updated
		case err != ErrNotFound:
			return domain.Project{}, persistErr("load project", err)
		}
	}
	if existing == nil {
		p.ID = newID()
	}
	p = prepareProject(p, existing, now)
	if err := writeProject(ctx, tx, p, existing == nil); err != nil {
		return domain.Project{}, persistErr("save project", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, persistErr("commit project", err)
	}
	publish(r.Events, events.Change{Kind: kind, Entity: events.EntityProject, ProjectID: p.ID, EntityID: p.ID})
	return p, nil
}

// writeProject upserts the project row and replaces its assignees and tasks. Comments are
// written only for new projects.
func writeProject(ctx context.Context, q execer, p domain.Project, withComments bool) error {
	if _, err := q.ExecContext(ctx, `INSERT INTO projects(id,title,description,responsible_id,status,address,number,neighborhood,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description, responsible_id=excluded.responsible_id,
status=excluded.status, address=excluded.address, number=excluded.number, neighborhood=excluded.neighborhood, updated_at=excluded.updated_at`,
		p.ID, p.Title, p.Description, nullable(p.ResponsibleID), string(p.Status), nullable(p.Address), nullable(p.Number), nullable(p.Neighborhood),
		normalize.FormatTime(p.CreatedAt), normalize.FormatTime(p.UpdatedAt)); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM project_assignees WHERE project_id=?`, p.ID); err != nil {
		return err
	}
	for i, uid := range p.AssignedUserIDs {
		if _, err := q.ExecContext(ctx, `INSERT INTO project_assignees(project_id,user_id,position) VALUES (?,?,?)`, p.ID, uid, i); err != nil {
			return err
		}
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM tasks WHERE project_id=?`, p.ID); err != nil {
		return err
	}
	for i, t := range p.Tasks {
		if _, err := q.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,completed,stage,responsible_id,observations,completed_at,position) VALUES (?,?,?,?,?,?,?,?,?)`,
			t.ID, p.ID, t.Title, t.Completed, string(t.Stage), nullable(t.ResponsibleID), t.Observations, nullableTime(t.CompletedAt), i); err != nil {
			return err
		}
	}
	if !withComments {
		return nil
	}
	for _, c := range p.Comments {
		if err := insertComment(ctx, q, c); err != nil {
			return err
		}
	}
	return nil
}

func insertComment(ctx context.Context, q execer, c domain.Comment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO comments(id,project_id,author_id,author_name,content,timestamp,target_user_id) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.AuthorID, c.AuthorName, c.Content, normalize.FormatTime(c.Timestamp), nullable(c.TargetUserID))
	return err
}

func (r *SQL) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return persistErr("delete project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	publish(r.Events, events.Change{Kind: events.Deleted, Entity: events.EntityProject, ProjectID: id, EntityID: id})
	return nil
}

func (r *SQL) AddComment(ctx context.Context, projectID string, c domain.Comment) (domain.Comment, error) {
	var exists int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id=?`, projectID).Scan(&exists)
	if err == sql.ErrNoRows {
		return domain.Comment{}, ErrNotFound
	}
	if err != nil {
		return domain.Comment{}, persistErr("load project", err)
	}
	c.ID = ""
	c.Timestamp = time.Time{}
	c = prepareComment(c, projectID, clock(r.Now))
	if err := insertComment(ctx, r.DB, c); err != nil {
		return domain.Comment{}, persistErr("add comment", err)
	}
	publish(r.Events, events.Change{Kind: events.Created, Entity: events.EntityComment, ProjectID: projectID, EntityID: c.ID})
	return c, nil
}

func (r *SQL) ListAgenda(ctx context.Context) ([]domain.AgendaItem, error) {
	if err := r.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,title,COALESCE(description,''),date,type FROM agenda_items`)
	if err != nil {
		return nil, persistErr("list agenda", err)
	}
	defer rows.Close()
	items := []domain.AgendaItem{}
	for rows.Next() {
		var it domain.AgendaItem
		var date, typ string
		if err := rows.Scan(&it.ID, &it.UserID, &it.Title, &it.Description, &date, &typ); err != nil {
			return nil, persistErr("scan agenda", err)
		}
		it.Date, _ = normalize.ParseTime(date)
		it.Type = normalize.AgendaType(typ)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list agenda", err)
	}
	sortAgenda(items)
	return items, nil
}

func (r *SQL) SaveAgendaItem(ctx context.Context, it domain.AgendaItem) (domain.AgendaItem, error) {
	it = prepareAgenda(it)
	kind := events.Created
	if isUUID(it.ID) {
		var exists int
		err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM agenda_items WHERE id=?`, it.ID).Scan(&exists)
		switch {
		case err == nil:
			kind = events.Updated
		case err != sql.ErrNoRows:
			return domain.AgendaItem{}, persistErr("load agenda item", err)
		}
	}
	if kind == events.Created {
		it.ID = newID()
	}
	if err := upsertAgenda(ctx, r.DB, it); err != nil {
		return domain.AgendaItem{}, persistErr("save agenda item", err)
	}
	publish(r.Events, events.Change{Kind: kind, Entity: events.EntityAgenda, EntityID: it.ID})
	return it, nil
}

func upsertAgenda(ctx context.Context, q execer, it domain.AgendaItem) error {
	_, err := q.ExecContext(ctx, `INSERT INTO agenda_items(id,user_id,title,description,date,type) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, title=excluded.title, description=excluded.description, date=excluded.date, type=excluded.type`,
		it.ID, it.UserID, it.Title, nullable(it.Description), normalize.FormatTime(it.Date), string(it.Type))
	return err
}

func (r *SQL) DeleteAgendaItem(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM agenda_items WHERE id=?`, id)
	if err != nil {
		return persistErr("delete agenda item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	publish(r.Events, events.Change{Kind: events.Deleted, Entity: events.EntityAgenda, EntityID: id})
	return nil
}

func (r *SQL) ReplaceAll(ctx context.Context, s domain.Snapshot) error {
	now := clock(r.Now)
	s = remapIDs(prepareSnapshot(s, now))
	if err := r.replace(ctx, s, now); err != nil {
		return err
	}
	publish(r.Events, events.Change{Kind: events.Replaced, Entity: events.EntitySnapshot})
	return nil
}

func (r *SQL) replace(ctx context.Context, s domain.Snapshot, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin replace", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"projects", "users", "agenda_items"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return persistErr("clear "+table, err)
		}
	}
	for _, u := range s.Users {
		if err := upsertUser(ctx, tx, u); err != nil {
			return persistErr("replace users", err)
		}
	}
	for _, p := range s.Projects {
		if err := writeProject(ctx, tx, p, true); err != nil {
			return persistErr("replace projects", err)
		}
	}
	for _, it := range s.Agenda {
		if err := upsertAgenda(ctx, tx, it); err != nil {
			return persistErr("replace agenda", err)
		}
	}
	if err := putKV(ctx, tx, seedKey, []byte("true"), now); err != nil {
		return persistErr("write seed marker", err)
	}
	return persistErr("commit replace", tx.Commit())
}

// remapIDs gives every record without a UUID a fresh one and rewrites the references to it,
// so that later saves resolve imported records as updates.
func remapIDs(s domain.Snapshot) domain.Snapshot {
	ids := map[string]string{}
	remap := func(id string) string {
		if id == "" || isUUID(id) {
			return id
		}
		if mapped, ok := ids[id]; ok {
			return mapped
		}
		ids[id] = newID()
		return ids[id]
	}
	for i := range s.Users {
		s.Users[i].ID = remap(s.Users[i].ID)
	}
	comments := map[string]struct{}{}
	for i := range s.Projects {
		p := &s.Projects[i]
		p.ID = remap(p.ID)
		p.ResponsibleID = remap(p.ResponsibleID)
		for j := range p.AssignedUserIDs {
			p.AssignedUserIDs[j] = remap(p.AssignedUserIDs[j])
		}
		p.AssignedUserIDs = dedupe(p.AssignedUserIDs)
		for j := range p.Tasks {
			p.Tasks[j].ID = remap(p.Tasks[j].ID)
			p.Tasks[j].ResponsibleID = remap(p.Tasks[j].ResponsibleID)
		}
		for j := range p.Comments {
			c := &p.Comments[j]
			c.ID = remap(c.ID)
			// comments.id is table-wide unique; the same id under two projects gets a fresh one.
			if _, dup := comments[c.ID]; dup || c.ID == "" {
				c.ID = newID()
			}
			comments[c.ID] = struct{}{}
			c.ProjectID = p.ID
			c.AuthorID = remap(c.AuthorID)
			c.TargetUserID = remap(c.TargetUserID)
		}
	}
	for i := range s.Agenda {
		s.Agenda[i].ID = remap(s.Agenda[i].ID)
		s.Agenda[i].UserID = remap(s.Agenda[i].UserID)
	}
	return s
}
