package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
)

// SaveProject inserts or updates p. An empty id is derived from the name.
func (s *Store) SaveProject(ctx context.Context, p restfile.Project) (restfile.Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return p, errdef.New(errdef.CodeStore, "project name is required")
	}
	if p.ID == "" {
		p.ID = stableID("project", p.Name)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, base_url) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			base_url = excluded.base_url`,
		p.ID, p.Name, p.Description, p.BaseURL)
	if err != nil {
		return p, errdef.Wrap(errdef.CodeStore, err, "save project %s", p.Name)
	}
	return p, nil
}

// Project looks a project up by id, then by name.
func (s *Store) Project(ctx context.Context, ref string) (restfile.Project, error) {
	var p restfile.Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, base_url FROM projects
		WHERE id = ? OR name = ?
		ORDER BY id = ? DESC
		LIMIT 1`, ref, ref, ref).
		Scan(&p.ID, &p.Name, &p.Description, &p.BaseURL)
	if err != nil {
		return p, notFound(err, "project %s", ref)
	}
	return p, nil
}

func (s *Store) Projects(ctx context.Context) ([]restfile.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, base_url FROM projects ORDER BY name`)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeStore, err, "list projects")
	}
	defer rows.Close()

	var out []restfile.Project
	for rows.Next() {
		var p restfile.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.BaseURL); err != nil {
			return nil, errdef.Wrap(errdef.CodeStore, err, "scan project")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errdef.Wrap(errdef.CodeStore, err, "list projects")
	}
	return out, nil
}

// DeleteProject removes the project and, through the foreign key, its requests.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return errdef.Wrap(errdef.CodeStore, err, "delete project %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "project %s", id)
	}
	return nil
}
