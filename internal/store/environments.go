package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
)

// SaveEnvironment inserts or updates env. An empty id is derived from the
// name. It satisfies vars.Sink so script writes persist.
func (s *Store) SaveEnvironment(ctx context.Context, env restfile.Environment) error {
	env.Name = strings.TrimSpace(env.Name)
	if env.Name == "" {
		return errdef.New(errdef.CodeStore, "environment name is required")
	}
	if env.ID == "" {
		env.ID = stableID("environment", env.Name)
	}
	if env.Variables == nil {
		env.Variables = map[string]string{}
	}
	col, err := encodeJSON(env.Variables)
	if err != nil {
		return errdef.Wrap(errdef.CodeStore, err, "encode environment %s", env.Name)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO environments (id, name, variables) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, variables = excluded.variables`,
		env.ID, env.Name, col)
	if err != nil {
		return errdef.Wrap(errdef.CodeStore, err, "save environment %s", env.Name)
	}
	return nil
}

func (s *Store) Environments(ctx context.Context) ([]restfile.Environment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, variables FROM environments ORDER BY name`)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeStore, err, "list environments")
	}
	defer rows.Close()

	var out []restfile.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeStore, err, "scan environment")
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, errdef.Wrap(errdef.CodeStore, err, "list environments")
	}
	return out, nil
}

func (s *Store) Environment(ctx context.Context, id string) (restfile.Environment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, variables FROM environments WHERE id = ?`, id)
	env, err := scanEnvironment(row)
	if err != nil {
		return env, notFound(err, "environment %s", id)
	}
	return env, nil
}

func (s *Store) EnvironmentByName(ctx context.Context, name string) (restfile.Environment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, variables FROM environments WHERE name = ?`, strings.TrimSpace(name))
	env, err := scanEnvironment(row)
	if err != nil {
		return env, notFound(err, "environment %s", name)
	}
	return env, nil
}

// ActiveEnvironment returns the persisted active environment. The bool is
// false when none is set or the recorded one no longer exists.
func (s *Store) ActiveEnvironment(ctx context.Context) (restfile.Environment, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, activeEnvironmentKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return restfile.Environment{}, false, nil
	}
	if err != nil {
		return restfile.Environment{}, false, errdef.Wrap(errdef.CodeStore, err, "read active environment")
	}
	env, err := s.Environment(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return restfile.Environment{}, false, nil
	}
	if err != nil {
		return restfile.Environment{}, false, err
	}
	return env, true, nil
}

func (s *Store) SetActiveEnvironment(ctx context.Context, id string) error {
	if _, err := s.Environment(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		activeEnvironmentKey, id)
	if err != nil {
		return errdef.Wrap(errdef.CodeStore, err, "set active environment")
	}
	return nil
}

func (s *Store) ClearActiveEnvironment(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, activeEnvironmentKey); err != nil {
		return errdef.Wrap(errdef.CodeStore, err, "clear active environment")
	}
	return nil
}

func scanEnvironment(row rowScanner) (restfile.Environment, error) {
	var (
		env  restfile.Environment
		vars sql.NullString
	)
	if err := row.Scan(&env.ID, &env.Name, &vars); err != nil {
		return env, err
	}
	env.Variables = map[string]string{}
	if err := decodeJSON(vars, &env.Variables); err != nil {
		return env, err
	}
	return env, nil
}
