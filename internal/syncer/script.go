package syncer

import (
	"fmt"
	"strings"
	"time"

	"prosync/internal/domain"
	"prosync/internal/normalize"
)

// BuildScript renders the PostgreSQL change script that brings a relational remote in line
// with the given users and projects.
func BuildScript(users []domain.User, projects []domain.Project) string {
	var b strings.Builder
	b.WriteString("BEGIN;\n")
	for _, u := range users {
		upsert(&b, "users", []column{
			{"id", u.ID},
			{"name", u.Name},
			{"role", u.Role},
			{"username", u.Username},
			{"password", optional(u.Password)},
			{"status", string(u.Status)},
			{"isAdmin", u.IsAdmin},
			{"avatar", optional(u.Avatar)},
		})
	}
	for _, p := range projects {
		upsert(&b, "projects", []column{
			{"id", p.ID},
			{"title", p.Title},
			{"description", p.Description},
			{"responsibleId", optional(p.ResponsibleID)},
			{"assignedUserIds", p.AssignedUserIDs},
			{"status", string(p.Status)},
			{"address", optional(p.Address)},
			{"number", optional(p.Number)},
			{"neighborhood", optional(p.Neighborhood)},
			{"createdAt", p.CreatedAt},
			{"updatedAt", p.UpdatedAt},
		})
		fmt.Fprintf(&b, "DELETE FROM tasks WHERE project_id = %s;\n", literal(p.ID))
		for _, t := range p.Tasks {
			insert(&b, "tasks", []column{
				{"id", t.ID},
				{"projectId", p.ID},
				{"title", t.Title},
				{"completed", t.Completed},
				{"stage", string(t.Stage)},
				{"responsibleId", optional(t.ResponsibleID)},
				{"observations", t.Observations},
				{"completedAt", t.CompletedAt},
			})
		}
		fmt.Fprintf(&b, "DELETE FROM comments WHERE project_id = %s;\n", literal(p.ID))
		for _, c := range p.Comments {
			insert(&b, "comments", []column{
				{"id", c.ID},
				{"projectId", p.ID},
				{"authorId", c.AuthorID},
				{"authorName", c.AuthorName},
				{"content", c.Content},
				{"timestamp", c.Timestamp},
				{"targetUserId", optional(c.TargetUserID)},
			})
		}
	}
	b.WriteString("COMMIT;\n")
	return b.String()
}

type column struct {
	field string
	value any
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func names(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = normalize.Column(c.field)
	}
	return out
}

func values(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = literal(c.value)
	}
	return out
}

func insert(b *strings.Builder, table string, cols []column) {
	fmt.Fprintf(b, "INSERT INTO %s (%s) VALUES (%s);\n", table, strings.Join(names(cols), ", "), strings.Join(values(cols), ", "))
}

func upsert(b *strings.Builder, table string, cols []column) {
	keys := names(cols)
	var set []string
	for _, k := range keys {
		if k == "id" {
			continue
		}
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", k, k))
	}
	fmt.Fprintf(b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s;\n",
		table, strings.Join(keys, ", "), strings.Join(values(cols), ", "), strings.Join(set, ", "))
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// literal renders v as a PostgreSQL literal.
func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		if x.IsZero() {
			return "NULL"
		}
		return quote(normalize.FormatTime(x))
	case *time.Time:
		if x == nil || x.IsZero() {
			return "NULL"
		}
		return quote(normalize.FormatTime(*x))
	case []string:
		items := make([]string, len(x))
		for i, s := range x {
			items[i] = quote(s)
		}
		return "ARRAY[" + strings.Join(items, ",") + "]::text[]"
	case int:
		return fmt.Sprintf("%d", x)
	default:
		return quote(fmt.Sprint(x))
	}
}
