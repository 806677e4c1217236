package vars

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/restrun/internal/restfile"
)

type recordingSink struct {
	saved []restfile.Environment
	err   error
}

func (s *recordingSink) SaveEnvironment(_ context.Context, env restfile.Environment) error {
	s.saved = append(s.saved, env)
	return s.err
}

func TestActiveStoreWritesThroughAndPersists(t *testing.T) {
	sink := &recordingSink{}
	active := NewActive(sink)
	active.Activate(restfile.Environment{ID: "e1", Name: "dev", Variables: map[string]string{"a": "1"}})

	if err := active.Store(context.Background(), "token", "abc"); err != nil {
		t.Fatalf("store: %v", err)
	}

	if v, ok := active.Lookup("token"); !ok || v != "abc" {
		t.Fatalf("expected token=abc, got %q (ok %v)", v, ok)
	}
	if len(sink.saved) != 1 {
		t.Fatalf("expected one save, got %d", len(sink.saved))
	}
	saved := sink.saved[0].Variables
	if saved["token"] != "abc" || saved["a"] != "1" {
		t.Fatalf("unexpected persisted variables %v", saved)
	}
}

func TestActiveStoreWithoutEnvironmentIsNoop(t *testing.T) {
	sink := &recordingSink{}
	active := NewActive(sink)

	if err := active.Store(context.Background(), "token", "abc"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, ok := active.Lookup("token"); ok {
		t.Fatalf("expected no variable without an active environment")
	}
	if len(sink.saved) != 0 {
		t.Fatalf("expected nothing persisted, got %d saves", len(sink.saved))
	}
}

func TestActiveKeepsWriteWhenPersistFails(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	active := NewActive(sink)
	active.Activate(restfile.Environment{Name: "dev"})

	if err := active.Store(context.Background(), "k", "v"); err == nil {
		t.Fatalf("expected the persist error to surface")
	}
	if v, ok := active.Lookup("k"); !ok || v != "v" {
		t.Fatalf("in-memory write lost: %q (ok %v)", v, ok)
	}
}

func TestActiveSnapshotIsIsolated(t *testing.T) {
	active := NewActive(nil)
	active.Activate(restfile.Environment{Name: "dev", Variables: map[string]string{"a": "1"}})

	snap, ok := active.Environment()
	if !ok {
		t.Fatalf("expected an active environment")
	}
	snap.Variables["a"] = "changed"

	if v, _ := active.Lookup("a"); v != "1" {
		t.Fatalf("snapshot write leaked into active environment: %q", v)
	}

	if err := active.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := active.Lookup("a"); ok {
		t.Fatalf("expected a to be deleted")
	}

	active.Clear()
	if _, ok := active.Environment(); ok {
		t.Fatalf("expected no environment after clear")
	}
}

func TestActiveProviderSeesLiveWrites(t *testing.T) {
	active := NewActive(nil)
	active.Activate(restfile.Environment{Name: "dev"})
	r := NewResolver(active.Provider())

	if got := r.ExpandTemplates("{{token}}"); got != "{{token}}" {
		t.Fatalf("expected unresolved token, got %q", got)
	}
	if err := active.Store(context.Background(), "token", "T"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if got := r.ExpandTemplates("{{token}}"); got != "T" {
		t.Fatalf("expected live write to resolve, got %q", got)
	}
}
