package events

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestEmitter_RegistrationOrder(t *testing.T) {
	em := NewEmitter()
	var got []string
	em.On(SegmentUpdated, func(context.Context, Event) error { got = append(got, "first"); return nil })
	em.On(SegmentUpdated, func(context.Context, Event) error { got = append(got, "second"); return nil })
	em.On(SegmentCreated, func(context.Context, Event) error { got = append(got, "other kind"); return nil })
	em.On(SegmentUpdated, func(context.Context, Event) error { got = append(got, "third"); return nil })

	if err := em.Emit(context.Background(), Event{Kind: SegmentUpdated}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("delivery order = %v, want %v", got, want)
	}
}

func TestEmitter_FailureIsolation(t *testing.T) {
	em := NewEmitter()
	boom := errors.New("boom")
	delivered := 0

	em.On(SequenceUpdated, func(context.Context, Event) error { return boom })
	em.On(SequenceUpdated, func(context.Context, Event) error { panic("listener bug") })
	em.On(SequenceUpdated, func(context.Context, Event) error { delivered++; return nil })

	err := em.Emit(context.Background(), Event{Kind: SequenceUpdated})
	if err == nil {
		t.Fatal("Emit() expected joined listener errors")
	}
	if delivered != 1 {
		t.Errorf("later listener delivered %d times, want 1", delivered)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Emit() error should wrap listener error, got %v", err)
	}
	if !errors.Is(err, ErrListenerPanic) {
		t.Errorf("Emit() error should wrap recovered panic, got %v", err)
	}

	var le *ListenerError
	if !errors.As(err, &le) {
		t.Fatalf("Emit() error should contain *ListenerError, got %T", err)
	}
	if le.Kind != SequenceUpdated || le.Position != 0 {
		t.Errorf("ListenerError = %+v, want kind %v position 0", le, SequenceUpdated)
	}
}

func TestEmitter_Off(t *testing.T) {
	em := NewEmitter()
	calls := 0
	sub := em.On(SegmentDeleted, func(context.Context, Event) error { calls++; return nil })

	if !em.Off(sub) {
		t.Fatal("Off() = false for registered listener")
	}
	if em.Off(sub) {
		t.Error("Off() = true for already removed listener")
	}
	if err := em.Emit(context.Background(), Event{Kind: SegmentDeleted}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("removed listener called %d times", calls)
	}
	if em.Count(SegmentDeleted) != 0 {
		t.Errorf("Count() = %d, want 0", em.Count(SegmentDeleted))
	}
}

func TestEmitter_OffDuringEmit(t *testing.T) {
	em := NewEmitter()
	var second Subscription
	secondCalls := 0
	em.On(MetadataUpdated, func(context.Context, Event) error {
		em.Off(second)
		return nil
	})
	second = em.On(MetadataUpdated, func(context.Context, Event) error { secondCalls++; return nil })

	_ = em.Emit(context.Background(), Event{Kind: MetadataUpdated})
	_ = em.Emit(context.Background(), Event{Kind: MetadataUpdated})

	if secondCalls != 1 {
		t.Errorf("listener removed mid-delivery called %d times, want 1", secondCalls)
	}
}

func TestEmitter_UnknownKind(t *testing.T) {
	em := NewEmitter()
	if err := em.Emit(context.Background(), Event{Kind: Kind(99)}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Emit(unknown) error = %v, want ErrUnknownKind", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("On(unknown) should panic")
		}
	}()
	em.On(Kind(0), func(context.Context, Event) error { return nil })
}

func TestRecorder(t *testing.T) {
	em := NewEmitter()
	rec := NewRecorder(em)

	evs := []Event{{Kind: SequenceCreated}, {Kind: SegmentCreated}, {Kind: SegmentCreated}}
	if err := em.EmitAll(context.Background(), evs); err != nil {
		t.Fatalf("EmitAll() error = %v", err)
	}

	want := []Kind{SequenceCreated, SegmentCreated, SegmentCreated}
	if got := rec.Kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
	if rec.Count(SegmentCreated) != 2 {
		t.Errorf("Count(SegmentCreated) = %d, want 2", rec.Count(SegmentCreated))
	}
	rec.Clear()
	if len(rec.Events()) != 0 {
		t.Error("Clear() did not reset events")
	}
}

func TestKind_Text(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		if err != nil || parsed != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), parsed, err)
		}
	}

	data, err := json.Marshal(Event{Kind: BoundaryChanged, SequenceID: "seq_1"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Kind != BoundaryChanged {
		t.Errorf("Kind after JSON = %v, want %v", back.Kind, BoundaryChanged)
	}

	if _, err := ParseKind("nope"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ParseKind(nope) error = %v", err)
	}
}
