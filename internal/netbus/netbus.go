// Package netbus provides the network and lifecycle signal bus.
//
// The bus exposes a single observable boolean (online/offline) plus an
// application resume signal. Consumers react only to true edge transitions
// (offline to online); steady-state online never re-triggers sync. Resume
// is delivered as a distinct event that consumers treat like a reconnect
// for refresh purposes, even when connectivity never dropped.
package netbus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bfgold/storefront-sync/internal/logging"
)

// EventKind identifies a bus event.
type EventKind string

const (
	// EventOnline fires on the offline-to-online edge only.
	EventOnline EventKind = "online"
	// EventResume fires when the application returns to the foreground.
	EventResume EventKind = "resume"
)

// Event is delivered to subscribers.
type Event struct {
	Kind EventKind
}

// Subscription is an explicit handle on a bus subscription. Holders must
// call Unsubscribe when done; dropping the handle without unsubscribing
// leaks the delivery channel until the bus is discarded.
type Subscription struct {
	bus *Bus
	id  int
	ch  chan Event
}

// C returns the event delivery channel.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Unsubscribe detaches the subscription and closes its channel. It is
// safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus is the process-wide connectivity state source.
type Bus struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan Event
	nextID int
}

// New creates a Bus with the given initial connectivity assumption.
func New(initiallyOnline bool) *Bus {
	return &Bus{
		online: initiallyOnline,
		subs:   make(map[int]chan Event),
	}
}

// IsOnline reports the current connectivity state.
func (b *Bus) IsOnline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

// SetOnline records a connectivity observation. Only the offline-to-online
// edge is broadcast; going offline and steady-state reports change nothing
// for subscribers.
func (b *Bus) SetOnline(online bool) {
	b.mu.Lock()
	wasOnline := b.online
	b.online = online
	b.mu.Unlock()

	if online && !wasOnline {
		logging.Info("Connectivity restored")
		b.broadcast(Event{Kind: EventOnline})
	} else if !online && wasOnline {
		logging.Info("Connectivity lost")
	}
}

// Resume signals that the application came back to the foreground. It is
// always broadcast, independent of connectivity edges.
func (b *Bus) Resume() {
	b.broadcast(Event{Kind: EventResume})
}

// Subscribe attaches a new subscriber. Events are delivered on a buffered
// channel; a subscriber that falls behind loses events rather than
// blocking the bus.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan Event, 8)
	b.subs[b.nextID] = ch

	return &Subscription{bus: b, id: b.nextID, ch: ch}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Bus) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the bus.
		}
	}
}

// Prober reports whether the remote side is reachable right now.
type Prober interface {
	Online(ctx context.Context) bool
}

// HTTPProbe implements Prober by issuing a HEAD request against a health
// endpoint, standing in for the platform connectivity listener.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// Online implements Prober.
func (p *HTTPProbe) Online(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// Watch polls the prober at the given interval and feeds observations into
// the bus until the context is cancelled.
func (b *Bus) Watch(ctx context.Context, probe Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.SetOnline(probe.Online(ctx))
		}
	}
}
