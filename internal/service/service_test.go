package service_test

import (
	"context"
	"testing"
	"time"

	"backoffice/internal/service"
)

// ─────────────────────────────────────────────────────────────
// keyGuard tests
// ─────────────────────────────────────────────────────────────

func TestKeyGuard_Acquire(t *testing.T) {
	var g service.KeyGuard

	release1, since, ok := g.Acquire("job-1")
	if !ok {
		t.Fatal("expected first Acquire to succeed")
	}
	_, busySince, ok := g.Acquire("job-1")
	if ok {
		t.Fatal("expected second Acquire for same job to fail")
	}
	if !busySince.Equal(since) {
		t.Errorf("busy since %v, want %v", busySince, since)
	}
	release2, _, ok := g.Acquire("job-2")
	if !ok {
		t.Fatal("expected Acquire for different job to succeed")
	}
	release1()
	release1()
	release2()

	release, _, ok := g.Acquire("job-1")
	if !ok {
		t.Fatal("expected Acquire to succeed after release")
	}
	release()
}

func TestKeyGuard_Wait(t *testing.T) {
	var g service.KeyGuard

	release, _, ok := g.Acquire("job-a")
	if !ok {
		t.Fatal("expected Acquire to succeed")
	}

	done := make(chan bool)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- g.Wait(ctx)
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	select {
	case released := <-done:
		if !released {
			t.Fatal("Wait gave up before the release")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait timed out")
	}
}

func TestKeyGuard_WaitGivesUp(t *testing.T) {
	var g service.KeyGuard
	release, _, _ := g.Acquire("job")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if g.Wait(ctx) {
		t.Fatal("expected Wait to report the held key")
	}
}

// ─────────────────────────────────────────────────────────────
// MockEmitter tests
// ─────────────────────────────────────────────────────────────

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, "test:event", map[string]string{"foo": "bar"})
	m.Emit(ctx, "test:event2", nil)

	if len(m.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(m.Events))
	}
	if m.Events[0].Event != "test:event" {
		t.Errorf("expected 'test:event', got %q", m.Events[0].Event)
	}
}

func TestMockEmitter_Named(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, service.EventDatasetUpdated, "a")
	m.Emit(ctx, service.EventGridExported, "b")
	m.Emit(ctx, service.EventDatasetUpdated, "c")

	got := m.Named(service.EventDatasetUpdated)
	if len(got) != 2 || got[0].Data != "a" || got[1].Data != "c" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestMultiEmitter_FansOut(t *testing.T) {
	a, b := &service.MockEmitter{}, &service.MockEmitter{}
	service.MultiEmitter{a, service.NopEmitter{}, b}.Emit(context.Background(), "x", 1)

	if len(a.Events) != 1 || len(b.Events) != 1 {
		t.Fatalf("expected one event each, got %d and %d", len(a.Events), len(b.Events))
	}
}

func TestKeyGuard_Held(t *testing.T) {
	var g service.KeyGuard
	if _, ok := g.Held("job"); ok {
		t.Fatal("expected idle guard")
	}
	release, _, _ := g.Acquire("job")
	if _, ok := g.Held("job"); !ok {
		t.Fatal("expected job to be held")
	}
	release()
	if _, ok := g.Held("job"); ok {
		t.Fatal("expected job to be released")
	}
}

func TestMockEmitter_LastEvent(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, "a", "first")
	m.Emit(ctx, "b", "second")

	if m.Events[len(m.Events)-1].Event != "b" {
		t.Errorf("expected last event 'b', got %q", m.Events[len(m.Events)-1].Event)
	}
}
