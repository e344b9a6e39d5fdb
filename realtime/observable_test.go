package realtime

import "testing"

func TestObservableNotifiesOncePerTransition(t *testing.T) {
	o := NewStateObservable()

	var got []bool
	o.Subscribe(func(v bool) { got = append(got, v) })

	// Initial delivery of the current value.
	if len(got) != 1 || got[0] != false {
		t.Fatalf("expected initial false delivery, got %v", got)
	}

	o.Publish(false) // same value, must be suppressed
	o.Publish(true)
	o.Publish(true) // duplicate
	o.Publish(false)

	want := []bool{false, true, false}
	if len(got) != len(want) {
		t.Fatalf("expected %d deliveries, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestObservableUnsubscribe(t *testing.T) {
	o := NewStateObservable()

	calls := 0
	cancel := o.Subscribe(func(bool) { calls++ })
	cancel()
	cancel() // second cancel is harmless

	o.Publish(true)
	if calls != 1 { // only the initial delivery
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestObservableCurrent(t *testing.T) {
	o := NewStateObservable()
	if o.Current() {
		t.Fatal("expected initial state false")
	}
	o.Publish(true)
	if !o.Current() {
		t.Fatal("expected true after publish")
	}

	// Late subscriber sees the current value immediately.
	var late []bool
	o.Subscribe(func(v bool) { late = append(late, v) })
	if len(late) != 1 || !late[0] {
		t.Fatalf("late subscriber expected immediate true, got %v", late)
	}
}
