package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/TomSft15/BlurFace/internal/video"
)

func newTestRegistry() *Registry {
	r := NewRegistry(context.Background(), quietLogger())
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return r
}

func TestRegistryLifecycle(t *testing.T) {
	h := &harness{opener: &fakeOpener{next: []*fakeCapture{{frames: 5}, {frames: 5}}}}
	r := newTestRegistry()

	a, err := r.Create(h.options(webcam()))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	b, err := r.Create(h.options(webcam()))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.ID == b.ID || r.Len() != 2 {
		t.Fatalf("expected two distinct sessions, got %q %q (len %d)", a.ID, b.ID, r.Len())
	}

	got, err := r.Get(a.ID)
	if err != nil || got != a {
		t.Fatalf("Get(%q) = %v, %v", a.ID, got, err)
	}

	infos := r.List()
	if len(infos) != 2 || infos[0].ID != "id-1" || !infos[0].Running {
		t.Errorf("List() = %+v", infos)
	}

	if err := r.Close(a.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if a.Running() {
		t.Error("closed session still running")
	}
	if _, err := r.Get(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Close = %v, want ErrNotFound", err)
	}
	if err := r.Close(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double Close = %v, want ErrNotFound", err)
	}

	r.CloseAll()
	if r.Len() != 0 || b.Running() {
		t.Error("CloseAll left sessions behind")
	}
}

func TestRegistryCreateFailureNotRegistered(t *testing.T) {
	h := &harness{opener: &fakeOpener{}}
	r := newTestRegistry()

	if _, err := r.Create(h.options(webcam())); !errors.Is(err, video.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if r.Len() != 0 {
		t.Error("failed session was registered")
	}
}

func TestRegistryDropsStoppedSessions(t *testing.T) {
	h := &harness{opener: &fakeOpener{next: []*fakeCapture{{frames: 0}}}}
	r := newTestRegistry()

	s, err := r.Create(h.options(webcam()))
	if err != nil {
		t.Fatal(err)
	}
	// No frame ever arrives, so the session stops itself.
	if _, err := s.GetFrame(); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := r.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on torn-down session = %v, want ErrNotFound", err)
	}
	if r.Len() != 0 {
		t.Error("stopped session still registered")
	}
}
