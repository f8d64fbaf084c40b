// Package netbus provides unit tests for the network signal bus.
package netbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func collect(sub *Subscription, wait time.Duration) []Event {
	var events []Event
	deadline := time.After(wait)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

// TestOnlineEdgeOnly tests that only the offline-to-online transition is
// broadcast.
func TestOnlineEdgeOnly(t *testing.T) {
	bus := New(true)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	// Steady-state online: no events.
	bus.SetOnline(true)
	bus.SetOnline(true)

	// Going offline: no event either.
	bus.SetOnline(false)

	// The edge back online fires exactly once.
	bus.SetOnline(true)

	events := collect(sub, 50*time.Millisecond)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Kind != EventOnline {
		t.Errorf("Kind = %s, want online", events[0].Kind)
	}
}

// TestIsOnlineTracksState tests the observable boolean.
func TestIsOnlineTracksState(t *testing.T) {
	bus := New(true)

	if !bus.IsOnline() {
		t.Error("Expected initial online state")
	}

	bus.SetOnline(false)
	if bus.IsOnline() {
		t.Error("Expected offline after SetOnline(false)")
	}

	bus.SetOnline(true)
	if !bus.IsOnline() {
		t.Error("Expected online after SetOnline(true)")
	}
}

// TestResumeAlwaysDelivered tests that resume fires independent of
// connectivity edges.
func TestResumeAlwaysDelivered(t *testing.T) {
	bus := New(true)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Resume()
	bus.Resume()

	events := collect(sub, 50*time.Millisecond)
	if len(events) != 2 {
		t.Fatalf("Expected 2 resume events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Kind != EventResume {
			t.Errorf("Kind = %s, want resume", ev.Kind)
		}
	}
}

// TestUnsubscribeStopsDelivery tests that a released handle gets nothing.
func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(false)
	sub := bus.Subscribe()

	sub.Unsubscribe()
	bus.SetOnline(true)

	events := collect(sub, 50*time.Millisecond)
	if len(events) != 0 {
		t.Errorf("Expected no events after unsubscribe, got %d", len(events))
	}

	// A second Unsubscribe is safe.
	sub.Unsubscribe()
}

// TestMultipleSubscribers tests independent delivery.
func TestMultipleSubscribers(t *testing.T) {
	bus := New(false)
	sub1 := bus.Subscribe()
	defer sub1.Unsubscribe()
	sub2 := bus.Subscribe()
	defer sub2.Unsubscribe()

	bus.SetOnline(true)

	if got := collect(sub1, 50*time.Millisecond); len(got) != 1 {
		t.Errorf("Subscriber 1 expected 1 event, got %d", len(got))
	}
	if got := collect(sub2, 50*time.Millisecond); len(got) != 1 {
		t.Errorf("Subscriber 2 expected 1 event, got %d", len(got))
	}
}

// fakeProbe flips reachability according to a script.
type fakeProbe struct {
	results []bool
	idx     int
}

func (p *fakeProbe) Online(ctx context.Context) bool {
	if p.idx >= len(p.results) {
		return p.results[len(p.results)-1]
	}
	r := p.results[p.idx]
	p.idx++
	return r
}

// TestWatchFeedsBus tests that polling observations reach subscribers as
// a single edge.
func TestWatchFeedsBus(t *testing.T) {
	bus := New(true)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := &fakeProbe{results: []bool{false, false, true, true}}
	go bus.Watch(ctx, probe, 10*time.Millisecond)

	events := collect(sub, 200*time.Millisecond)
	if len(events) != 1 {
		t.Fatalf("Expected exactly 1 online edge from watch, got %d", len(events))
	}
}

// TestHTTPProbe tests the health-endpoint prober.
func TestHTTPProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	probe := &HTTPProbe{URL: server.URL}
	if !probe.Online(context.Background()) {
		t.Error("Expected probe to report online against a healthy endpoint")
	}

	server.Close()
	if probe.Online(context.Background()) {
		t.Error("Expected probe to report offline against a closed endpoint")
	}
}
