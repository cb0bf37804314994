package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/danshapiro/uigen/internal/vfs"
)

var (
	// ErrNotFound covers both missing projects and projects owned by
	// someone else, so callers cannot probe for ids.
	ErrNotFound = errors.New("project not found")
	// ErrAccessDenied is returned when a save matches no project owned by
	// the caller.
	ErrAccessDenied = errors.New("project access denied")
	// ErrCorrupt means the stored snapshot does not match its checksum.
	ErrCorrupt = errors.New("project data corrupt")
)

type Project struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Messages  json.RawMessage `json:"messages"`
	Files     vfs.Snapshot    `json:"data"`
	Checksum  string          `json:"checksum"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type ProjectSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProjectStore reads and writes projects, always scoped to an owner.
type ProjectStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewProjectStore(db *sql.DB) *ProjectStore {
	return &ProjectStore{db: db, now: time.Now}
}

// Open creates the database at path if needed and returns a store over it.
func Open(path string) (*ProjectStore, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return NewProjectStore(db), nil
}

func (s *ProjectStore) Close() error { return s.db.Close() }

func (s *ProjectStore) CreateProject(ctx context.Context, userID, name string) (Project, error) {
	if strings.TrimSpace(userID) == "" {
		return Project{}, fmt.Errorf("create project: user id is required")
	}
	blob, sum, err := encode(vfs.Snapshot{})
	if err != nil {
		return Project{}, err
	}
	now := s.now().UTC()
	p := Project{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		Messages:  json.RawMessage("[]"),
		Files:     vfs.Snapshot{},
		Checksum:  sum,
		CreatedAt: now,
		UpdatedAt: now,
	}
	const q = `INSERT INTO projects (id, user_id, name, messages_json, data, checksum, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, p.ID, p.UserID, p.Name, string(p.Messages), blob, sum, now.UnixMilli(), now.UnixMilli()); err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *ProjectStore) GetProject(ctx context.Context, id, userID string) (Project, error) {
	const q = `SELECT id, user_id, name, messages_json, data, checksum, created_at, updated_at
FROM projects
WHERE id = ? AND user_id = ?`

	var (
		p                  Project
		messages, checksum string
		blob               []byte
		created, updated   int64
	)
	err := s.db.QueryRowContext(ctx, q, id, userID).Scan(&p.ID, &p.UserID, &p.Name, &messages, &blob, &checksum, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	if checksum != "" && checksumOf(blob) != checksum {
		return Project{}, fmt.Errorf("get project %s: %w", id, ErrCorrupt)
	}
	files, err := vfs.DecodeSnapshot(blob)
	if err != nil {
		return Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	p.Messages = json.RawMessage(messages)
	p.Files = files
	p.Checksum = checksum
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

func (s *ProjectStore) ListProjects(ctx context.Context, userID string) ([]ProjectSummary, error) {
	const q = `SELECT id, name, updated_at FROM projects WHERE user_id = ? ORDER BY updated_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []ProjectSummary{}
	for rows.Next() {
		var ps ProjectSummary
		var updated int64
		if err := rows.Scan(&ps.ID, &ps.Name, &updated); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		ps.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, ps)
	}
	return out, rows.Err()
}

// SaveTurn replaces the conversation and file tree of a project. The update
// is filtered by owner; a miss returns ErrAccessDenied.
func (s *ProjectStore) SaveTurn(ctx context.Context, id, userID string, messagesJSON []byte, snapshot vfs.Snapshot) error {
	if !json.Valid(messagesJSON) {
		return fmt.Errorf("save project %s: messages are not valid JSON", id)
	}
	blob, sum, err := encode(snapshot)
	if err != nil {
		return err
	}
	const q = `UPDATE projects SET messages_json = ?, data = ?, checksum = ?, updated_at = ?
WHERE id = ? AND user_id = ?`
	res, err := s.db.ExecContext(ctx, q, string(messagesJSON), blob, sum, s.now().UTC().UnixMilli(), id, userID)
	if err != nil {
		return fmt.Errorf("save project %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save project %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("save project %s: %w", id, ErrAccessDenied)
	}
	return nil
}

func encode(snapshot vfs.Snapshot) ([]byte, string, error) {
	if snapshot == nil {
		snapshot = vfs.Snapshot{}
	}
	blob, err := vfs.EncodeSnapshot(snapshot)
	if err != nil {
		return nil, "", err
	}
	return blob, checksumOf(blob), nil
}

func checksumOf(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
