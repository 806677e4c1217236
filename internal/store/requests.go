package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
)

const requestColumns = `id, project_id, position, name, method, url, headers, params, body, auth, scripts`

// SaveRequest inserts or updates req. An empty id is derived from the
// project and request name; a new request without a position goes last.
func (s *Store) SaveRequest(ctx context.Context, req restfile.Request) (restfile.Request, error) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return req, errdef.New(errdef.CodeStore, "request %s has no project", req.DisplayName())
	}
	if req.ID == "" {
		req.ID = stableID("request", req.ProjectID, req.Name)
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	if req.Position <= 0 {
		var pos sql.NullInt64
		err := s.db.QueryRowContext(ctx, `
			SELECT COALESCE(
				(SELECT position FROM requests WHERE id = ?),
				(SELECT MAX(position) + 1 FROM requests WHERE project_id = ?),
				1)`, req.ID, req.ProjectID).Scan(&pos)
		if err != nil {
			return req, errdef.Wrap(errdef.CodeStore, err, "position request %s", req.DisplayName())
		}
		req.Position = int(pos.Int64)
	}

	cols, err := encodeRequest(req)
	if err != nil {
		return req, errdef.Wrap(errdef.CodeStore, err, "encode request %s", req.DisplayName())
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			position = excluded.position,
			name = excluded.name,
			method = excluded.method,
			url = excluded.url,
			headers = excluded.headers,
			params = excluded.params,
			body = excluded.body,
			auth = excluded.auth,
			scripts = excluded.scripts`,
		req.ID, req.ProjectID, req.Position, req.Name, req.Method, req.URL,
		cols.headers, cols.params, cols.body, cols.auth, cols.scripts)
	if err != nil {
		return req, errdef.Wrap(errdef.CodeStore, err, "save request %s", req.DisplayName())
	}
	return req, nil
}

func (s *Store) Request(ctx context.Context, id string) (restfile.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err != nil {
		return req, notFound(err, "request %s", id)
	}
	return req, nil
}

// ListProjectRequests returns the project's requests in run order.
func (s *Store) ListProjectRequests(ctx context.Context, projectID string) ([]restfile.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE project_id = ?
		ORDER BY position, rowid`, projectID)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeStore, err, "list requests")
	}
	defer rows.Close()

	var out []restfile.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeStore, err, "scan request")
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errdef.Wrap(errdef.CodeStore, err, "list requests")
	}
	return out, nil
}

// UpdateRequestAuth replaces only the auth descriptor of a stored request.
func (s *Store) UpdateRequestAuth(ctx context.Context, requestID string, auth restfile.Auth) error {
	col, err := encodeJSON(auth)
	if err != nil {
		return errdef.Wrap(errdef.CodeStore, err, "encode auth")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE requests SET auth = ? WHERE id = ?`, col, requestID)
	if err != nil {
		return errdef.Wrap(errdef.CodeStore, err, "update auth of %s", requestID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "request %s", requestID)
	}
	return nil
}

func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id); err != nil {
		return errdef.Wrap(errdef.CodeStore, err, "delete request %s", id)
	}
	return nil
}

type requestCols struct {
	headers, params, body, auth, scripts sql.NullString
}

func encodeRequest(req restfile.Request) (requestCols, error) {
	var (
		cols requestCols
		err  error
	)
	if len(req.Headers) > 0 {
		if cols.headers, err = encodeJSON(req.Headers); err != nil {
			return cols, err
		}
	}
	if len(req.Params) > 0 {
		if cols.params, err = encodeJSON(req.Params); err != nil {
			return cols, err
		}
	}
	if req.Body != nil {
		if cols.body, err = encodeJSON(req.Body); err != nil {
			return cols, err
		}
	}
	if req.Auth != nil {
		if cols.auth, err = encodeJSON(req.Auth); err != nil {
			return cols, err
		}
	}
	if req.Scripts != nil {
		if cols.scripts, err = encodeJSON(req.Scripts); err != nil {
			return cols, err
		}
	}
	return cols, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (restfile.Request, error) {
	var (
		req  restfile.Request
		cols requestCols
	)
	err := row.Scan(&req.ID, &req.ProjectID, &req.Position, &req.Name, &req.Method, &req.URL,
		&cols.headers, &cols.params, &cols.body, &cols.auth, &cols.scripts)
	if err != nil {
		return req, err
	}
	if err := decodeJSON(cols.headers, &req.Headers); err != nil {
		return req, err
	}
	if err := decodeJSON(cols.params, &req.Params); err != nil {
		return req, err
	}
	if cols.body.Valid {
		req.Body = &restfile.Body{}
		if err := decodeJSON(cols.body, req.Body); err != nil {
			return req, err
		}
	}
	if cols.auth.Valid {
		req.Auth = &restfile.Auth{}
		if err := decodeJSON(cols.auth, req.Auth); err != nil {
			return req, err
		}
	}
	if cols.scripts.Valid {
		req.Scripts = &restfile.Scripts{}
		if err := decodeJSON(cols.scripts, req.Scripts); err != nil {
			return req, err
		}
	}
	return req, nil
}
