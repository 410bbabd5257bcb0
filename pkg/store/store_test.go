package store

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/CTAG07/goejs/pkg/ejs"
	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"
)

// setupTestStore opens a fresh database file and a Store on top of it.
// It uses t.Cleanup to ensure resources are released.
func setupTestStore(t *testing.T) *Store {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}
	// Calling it twice must be harmless.
	if err := SetupSchema(db); err != nil {
		t.Fatalf("second SetupSchema() failed: %v", err)
	}

	s, err := New(db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestPutAndRead(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "index.ejs", "v1"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := s.Put(ctx, "index.ejs", "v2"); err != nil {
		t.Fatalf("Put() overwrite failed: %v", err)
	}

	got, err := s.ReadFile("index.ejs")
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("ReadFile() = %q, want %q", got, "v2")
	}

	if _, err := s.ReadFile("missing.ejs"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist for a missing template, got %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"b.ejs", "partials/a.ejs", "a.ejs"} {
		if err := s.Put(ctx, name, name); err != nil {
			t.Fatalf("Put(%q) failed: %v", name, err)
		}
	}

	names, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a.ejs", "b.ejs", "partials/a.ejs"}, names); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	if err := s.Delete(ctx, "b.ejs"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "b.ejs"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist deleting twice, got %v", err)
	}

	names, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a.ejs", "partials/a.ejs"}, names); diff != "" {
		t.Errorf("List() after delete mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreAsTemplateSource(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	files := map[string]string{
		"layout.ejs":      "<main><% block body %><% endblock %></main>",
		"pages/home.ejs":  "<% extend ../layout %><% block body %><% include ../partials/hi %><% endblock %>",
		"partials/hi.ejs": "hi <%= name %>",
	}
	for name, src := range files {
		if err := s.Put(ctx, name, src); err != nil {
			t.Fatalf("Put(%q) failed: %v", name, err)
		}
	}

	e := ejs.New(ejs.WithReader(s), ejs.WithResolver(ejs.SlashResolver{}))
	var (
		out string
		err error
	)
	opts := ejs.RenderOptions{Options: ejs.DefaultOptions(), Locals: map[string]any{"name": "tobi"}}
	e.RenderFile("pages/home.ejs", opts, func(e error, s string) { out, err = s, e })
	if err != nil {
		t.Fatalf("RenderFile() failed: %v", err)
	}
	if out != "<main>hi tobi</main>" {
		t.Errorf("RenderFile() = %q, want %q", out, "<main>hi tobi</main>")
	}
}

func TestNewPrepareFailure(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "partial.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// The lookup statement prepares against this table, the upsert does not.
	if _, err = db.Exec(`CREATE TABLE ejs_templates (name TEXT, source TEXT);`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	s, err := New(db)
	if err == nil {
		s.Close()
		t.Fatal("expected New() to fail against an incomplete schema")
	}
	if s != nil {
		t.Errorf("expected a nil Store on error, got %v", s)
	}

	if err = SetupSchema(db); err != nil {
		t.Fatalf("SetupSchema() failed: %v", err)
	}
	if _, err = db.Exec(`DROP TABLE ejs_templates;`); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}
	if err = SetupSchema(db); err != nil {
		t.Fatalf("SetupSchema() failed: %v", err)
	}
	s, err = New(db)
	if err != nil {
		t.Fatalf("New() after fixing the schema failed: %v", err)
	}
	s.Close()
}
