package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danshapiro/uigen/internal/vfs"
)

func newTestStore(t *testing.T) *ProjectStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewDB_CreatesSchema(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='projects'`).Scan(&name)
	if err != nil {
		t.Fatalf("projects table missing: %v", err)
	}
	// Re-running the migration is harmless.
	if err := migrate(db); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}
}

func TestProjectStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "user-1", "  Counter  ")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.ID == "" || p.Name != "Counter" {
		t.Fatalf("unexpected project: %+v", p)
	}

	got, err := s.GetProject(ctx, p.ID, "user-1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if string(got.Messages) != "[]" {
		t.Errorf("Messages = %s, want []", got.Messages)
	}
	if len(got.Files) != 0 {
		t.Errorf("Files = %v, want empty", got.Files)
	}
	if got.Checksum == "" {
		t.Error("checksum not recorded")
	}
}

func TestProjectStore_CreateRequiresUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateProject(context.Background(), " ", "x"); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestProjectStore_GetHidesOtherOwners(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "owner", "mine")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := s.GetProject(ctx, p.ID, "intruder"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other owner: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetProject(ctx, "missing", "owner"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: err = %v, want ErrNotFound", err)
	}
}

func TestProjectStore_SaveTurnRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "user-1", "app")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	fs := vfs.New()
	fs.CreateFileWithParents("/App.jsx", "export default function App() {}")
	fs.CreateFileWithParents("/components/Button.jsx", "<button/>")
	msgs := []byte(`[{"role":"user","content":"make a button"},{"role":"assistant","content":"done"}]`)

	if err := s.SaveTurn(ctx, p.ID, "user-1", msgs, fs.Serialize()); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}

	got, err := s.GetProject(ctx, p.ID, "user-1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if string(got.Messages) != string(msgs) {
		t.Errorf("Messages = %s, want %s", got.Messages, msgs)
	}
	if got.Files["/App.jsx"].Content != "export default function App() {}" {
		t.Errorf("App.jsx = %q", got.Files["/App.jsx"].Content)
	}
	if got.Files["/components/Button.jsx"].Content != "<button/>" {
		t.Errorf("Button.jsx = %q", got.Files["/components/Button.jsx"].Content)
	}

	restored := vfs.New()
	if err := restored.DeserializeFromNodes(got.Files); err != nil {
		t.Fatalf("DeserializeFromNodes: %v", err)
	}
	if restored.Digest() != fs.Digest() {
		t.Error("restored tree digest differs from saved tree")
	}
}

func TestProjectStore_SaveTurnAdvancesUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	p, err := s.CreateProject(ctx, "u", "a")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	s.now = func() time.Time { return base.Add(time.Minute) }
	if err := s.SaveTurn(ctx, p.ID, "u", []byte(`[]`), vfs.Snapshot{}); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	got, err := s.GetProject(ctx, p.ID, "u")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if !got.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, base.Add(time.Minute))
	}
}

func TestProjectStore_SaveTurnRejectsOtherOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "owner", "a")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	err = s.SaveTurn(ctx, p.ID, "intruder", []byte(`[]`), vfs.Snapshot{})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
	err = s.SaveTurn(ctx, "missing", "owner", []byte(`[]`), vfs.Snapshot{})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("missing id: err = %v, want ErrAccessDenied", err)
	}
}

func TestProjectStore_SaveTurnRejectsInvalidJSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "u", "a")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := s.SaveTurn(ctx, p.ID, "u", []byte(`{not json`), nil); err == nil {
		t.Fatal("expected error for invalid messages JSON")
	}
}

func TestProjectStore_DetectsCorruptData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "u", "a")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE projects SET data = ? WHERE id = ?`, []byte{0x80, 0x01}, p.ID); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := s.GetProject(ctx, p.ID, "u"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestProjectStore_ListProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	first, err := s.CreateProject(ctx, "u", "first")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	s.now = func() time.Time { return base.Add(time.Second) }
	second, err := s.CreateProject(ctx, "u", "second")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := s.CreateProject(ctx, "other", "theirs"); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	list, err := s.ListProjects(ctx, "u")
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("order = [%s %s], want newest first", list[0].Name, list[1].Name)
	}

	empty, err := s.ListProjects(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", empty)
	}
}
