package reminders

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"medsync/models"
	"medsync/realtime"
)

type fakeRegistry struct {
	mu       sync.Mutex
	handlers map[string]realtime.Handler
	refuse   bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{handlers: map[string]realtime.Handler{}}
}

func (f *fakeRegistry) Register(event string, h realtime.Handler) bool {
	if f.refuse {
		return false
	}
	f.mu.Lock()
	f.handlers[event] = h
	f.mu.Unlock()
	return true
}

func (f *fakeRegistry) Unregister(event string) {
	f.mu.Lock()
	delete(f.handlers, event)
	f.mu.Unlock()
}

func (f *fakeRegistry) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", event)
	}
	h(data)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
	bodies []any
	err    error
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.bodies = append(f.bodies, payload)
	f.mu.Unlock()
	return f.err
}

func (f *fakeEmitter) lastResponse(t *testing.T) models.ReminderResponse {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		t.Fatal("nothing emitted")
	}
	resp, ok := f.bodies[len(f.bodies)-1].(models.ReminderResponse)
	if !ok {
		t.Fatalf("last emission is %T, not a reminder response", f.bodies[len(f.bodies)-1])
	}
	return resp
}

func testReminder(id, medID string) models.ReminderNotification {
	return models.ReminderNotification{
		ID:           id,
		MedicationID: medID,
		Name:         "Metformin",
		Dosage:       "500mg",
		ScheduledAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestIntakeKeepsArrivalOrder(t *testing.T) {
	reg := newFakeRegistry()
	c := New(reg, &fakeEmitter{}, nil)
	if !c.Attach() {
		t.Fatal("attach failed")
	}

	for i := 0; i < 3; i++ {
		reg.deliver(t, models.EventMedicationReminder, testReminder(fmt.Sprintf("r%d", i), "m1"))
	}

	active := c.Active()
	if len(active) != 3 {
		t.Fatalf("expected 3 active reminders, got %d", len(active))
	}
	for i, r := range active {
		if want := fmt.Sprintf("r%d", i); r.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, r.ID)
		}
	}
}

func TestRespondRemovesExactlyOneAndIsIdempotent(t *testing.T) {
	reg := newFakeRegistry()
	emit := &fakeEmitter{}
	c := New(reg, emit, nil)
	c.Attach()

	reg.deliver(t, models.EventMedicationReminder, testReminder("r1", "m1"))
	reg.deliver(t, models.EventMedicationReminder, testReminder("r2", "m1"))

	c.Respond("m1", "r1", models.ActionTaken, 0)
	if n := len(c.Active()); n != 1 {
		t.Fatalf("expected 1 remaining, got %d", n)
	}

	// Second response to the same key is a safe no-op.
	c.Respond("m1", "r1", models.ActionTaken, 0)
	if n := len(c.Active()); n != 1 {
		t.Fatalf("repeat response changed the set, got %d entries", n)
	}

	// Responding to a reminder that was never present is also a no-op.
	c.Respond("m9", "r9", models.ActionMissed, 0)
	if n := len(c.Active()); n != 1 {
		t.Fatalf("phantom response changed the set, got %d entries", n)
	}
}

func TestSnoozeDefaultsToFifteenMinutes(t *testing.T) {
	reg := newFakeRegistry()
	emit := &fakeEmitter{}
	c := New(reg, emit, nil)
	c.Attach()

	reg.deliver(t, models.EventMedicationReminder, testReminder("r1", "m1"))

	c.Respond("m1", "r1", models.ActionSnooze, 0)

	resp := emit.lastResponse(t)
	if resp.Action != models.ActionSnooze {
		t.Fatalf("expected snooze action, got %s", resp.Action)
	}
	if resp.SnoozeMinutes != 15 {
		t.Fatalf("expected default snooze of 15 minutes, got %d", resp.SnoozeMinutes)
	}
	if n := len(c.Active()); n != 0 {
		t.Fatalf("expected empty active set after response, got %d", n)
	}
}

func TestSnoozeExplicitMinutes(t *testing.T) {
	reg := newFakeRegistry()
	emit := &fakeEmitter{}
	c := New(reg, emit, nil)
	c.Attach()

	reg.deliver(t, models.EventMedicationReminder, testReminder("r1", "m1"))
	c.Respond("m1", "r1", models.ActionSnooze, 30)

	if resp := emit.lastResponse(t); resp.SnoozeMinutes != 30 {
		t.Fatalf("expected 30 minutes, got %d", resp.SnoozeMinutes)
	}
}

func TestTakenOmitsSnoozeMinutes(t *testing.T) {
	reg := newFakeRegistry()
	emit := &fakeEmitter{}
	c := New(reg, emit, nil)
	c.Attach()

	reg.deliver(t, models.EventMedicationReminder, testReminder("r1", "m1"))
	c.Respond("m1", "r1", models.ActionTaken, 45)

	if resp := emit.lastResponse(t); resp.SnoozeMinutes != 0 {
		t.Fatalf("snooze minutes only apply to snooze, got %d", resp.SnoozeMinutes)
	}
}

func TestRespondDoesNotRollBackOnEmitFailure(t *testing.T) {
	reg := newFakeRegistry()
	emit := &fakeEmitter{err: errors.New("transport down")}
	c := New(reg, emit, nil)
	c.Attach()

	reg.deliver(t, models.EventMedicationReminder, testReminder("r1", "m1"))
	c.Respond("m1", "r1", models.ActionTaken, 0)

	// Dispatch is best-effort: the local removal stands.
	if n := len(c.Active()); n != 0 {
		t.Fatalf("expected optimistic removal despite emit failure, got %d entries", n)
	}
}

func TestMalformedReminderIsDropped(t *testing.T) {
	reg := newFakeRegistry()
	c := New(reg, &fakeEmitter{}, nil)
	c.Attach()

	reg.mu.Lock()
	h := reg.handlers[models.EventMedicationReminder]
	reg.mu.Unlock()
	h(json.RawMessage(`{broken`))
	h(json.RawMessage(`{"medication_id":"m1"}`)) // no reminder id

	if n := len(c.Active()); n != 0 {
		t.Fatalf("malformed payloads must be dropped, got %d entries", n)
	}
}

func TestUpdateAndErrorEventsDoNotMutate(t *testing.T) {
	reg := newFakeRegistry()
	c := New(reg, &fakeEmitter{}, nil)
	c.Attach()

	reg.deliver(t, models.EventMedicationReminder, testReminder("r1", "m1"))
	reg.deliver(t, models.EventReminderUpdate, models.ReminderUpdate{MedicationID: "m1", ReminderID: "r1", Status: "acknowledged"})
	reg.deliver(t, models.EventReminderError, map[string]string{"error": "boom"})

	if n := len(c.Active()); n != 1 {
		t.Fatalf("observability events must not touch the active set, got %d entries", n)
	}
}

func TestAttachFailsWithoutCredential(t *testing.T) {
	reg := newFakeRegistry()
	reg.refuse = true
	c := New(reg, &fakeEmitter{}, nil)
	if c.Attach() {
		t.Fatal("attach should fail when the registry refuses the binding")
	}
}
