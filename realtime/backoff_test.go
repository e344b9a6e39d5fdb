package realtime

import (
	"sync"
	"testing"
	"time"
)

func TestBackoffFormula(t *testing.T) {
	m := NewManager(Config{BaseDelay: 100 * time.Millisecond}, NewStateObservable())

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 500 * time.Millisecond},
		{6, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}
	for _, c := range cases {
		if got := m.backoff(c.attempt); got != c.want {
			t.Fatalf("backoff(%d): expected %v, got %v", c.attempt, c.want, got)
		}
	}
}

func TestReconnectExhaustion(t *testing.T) {
	oldSleep := sleepFn
	var mu sync.Mutex
	var delays []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
	}
	t.Cleanup(func() { sleepFn = oldSleep })

	obs := NewStateObservable()
	var notified []bool
	obs.Subscribe(func(v bool) { notified = append(notified, v) })

	// Nothing listens on this port; every dial is refused.
	m := NewManager(Config{
		URL:         "http://127.0.0.1:1",
		Token:       testToken(t),
		BaseDelay:   10 * time.Millisecond,
		MaxAttempts: 10,
	}, obs)

	if err := m.Connect(); err == nil {
		t.Fatal("expected initial dial to fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.State() != StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatalf("manager never gave up, state %s", m.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	// One backoff sleep per supervised attempt, no 11th.
	if len(delays) != 10 {
		t.Fatalf("expected 10 reconnect attempts, got %d", len(delays))
	}
	for i, d := range delays {
		a := i + 1
		if a > 5 {
			a = 5
		}
		want := time.Duration(a) * 10 * time.Millisecond
		if d != want {
			t.Fatalf("attempt %d: expected delay %v, got %v", i+1, want, d)
		}
	}

	if obs.Current() {
		t.Fatal("connectivity must be false after exhaustion")
	}
	for _, v := range notified {
		if v {
			t.Fatal("connectivity must never have reported true")
		}
	}
}
