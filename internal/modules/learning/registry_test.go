package learning

import (
	"context"
	"testing"
	"time"

	"github.com/infinity-learn/core/internal/models"
)

func newState(sessionID string) (*sessionState, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionState{
		session:  &models.LearningSession{Base: models.Base{ID: sessionID}},
		lastUsed: time.Now(),
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
	}, ctx
}

func TestRegistryPutKeepsFirstState(t *testing.T) {
	r := NewRegistry(time.Hour)

	first, firstCtx := newState("s1")
	second, secondCtx := newState("s1")

	if got := r.Put("s1", first); got != first {
		t.Fatalf("first put must win")
	}
	if got := r.Put("s1", second); got != first {
		t.Fatalf("second put must return the existing state")
	}

	// the loser's context is cancelled so its refill goroutine exits
	select {
	case <-secondCtx.Done():
	default:
		t.Fatalf("discarded state not cancelled")
	}
	select {
	case <-firstCtx.Done():
		t.Fatalf("winning state must stay live")
	default:
	}
}

func TestRegistryRemoveCancels(t *testing.T) {
	r := NewRegistry(time.Hour)
	st, ctx := newState("s1")
	r.Put("s1", st)

	r.Remove("s1")
	if r.Len() != 0 {
		t.Fatalf("state still registered after remove")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("remove must cancel the refill context")
	}

	if _, ok := r.Get("s1"); ok {
		t.Fatalf("removed session still resolvable")
	}
}

func TestRegistryEvictIdle(t *testing.T) {
	r := NewRegistry(10 * time.Minute)

	idle, idleCtx := newState("idle")
	idle.lastUsed = time.Now().Add(-time.Hour)
	fresh, freshCtx := newState("fresh")

	r.Put("idle", idle)
	r.Put("fresh", fresh)

	if n := r.EvictIdle(time.Now()); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, ok := r.Get("idle"); ok {
		t.Fatalf("idle session survived eviction")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Fatalf("fresh session evicted")
	}

	select {
	case <-idleCtx.Done():
	default:
		t.Fatalf("evicted session not cancelled")
	}
	select {
	case <-freshCtx.Done():
		t.Fatalf("live session cancelled")
	default:
	}
}

func TestRegistryGetTouchesLastUsed(t *testing.T) {
	r := NewRegistry(10 * time.Minute)
	st, _ := newState("s1")
	st.lastUsed = time.Now().Add(-time.Hour)
	r.Put("s1", st)

	if _, ok := r.Get("s1"); !ok {
		t.Fatalf("session missing")
	}
	if n := r.EvictIdle(time.Now()); n != 0 {
		t.Fatalf("recently touched session evicted")
	}
}
