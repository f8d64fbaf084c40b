package bridge

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bfgold/storefront-sync/internal/errors"
	"github.com/bfgold/storefront-sync/internal/logging"
)

// Link is the page side of the bridge: a single connection to the agent
// hub. Inbound broadcasts are dispatched to the handler on a dedicated
// goroutine.
type Link struct {
	conn    *websocket.Conn
	handler InboundHandler

	mu     sync.Mutex // serializes writes
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Dial connects to the agent hub at rawURL (http or ws scheme, either is
// accepted) and starts dispatching inbound broadcasts to handler.
func Dial(rawURL string, handler InboundHandler) (*Link, error) {
	wsURL := rawURL
	switch {
	case strings.HasPrefix(rawURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(rawURL, "http://")
	case strings.HasPrefix(rawURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(rawURL, "https://")
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrBridgeClosed, "failed to dial bridge", err)
	}

	l := &Link{
		conn:    conn,
		handler: handler,
		done:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.readLoop()
	return l, nil
}

// Send pushes a typed message up to the agent.
func (l *Link) Send(msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode bridge payload", err)
	}

	envelope := Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode bridge envelope", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New(errors.ErrBridgeClosed, "bridge link is closed")
	}

	l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := l.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errors.Wrap(errors.ErrBridgeClosed, "bridge write failed", err)
	}
	return nil
}

// SendConfig pushes remote store credentials to the agent.
func (l *Link) SendConfig(cfg ConfigUpdate) error {
	return l.Send(MsgConfigUpdate, cfg)
}

// RequestReplay asks the agent to drain the pending queue now.
func (l *Link) RequestReplay() error {
	return l.Send(MsgReplayRequested, struct{}{})
}

// Close tears the connection down. The handler receives no further
// messages after Close returns.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	err := l.conn.Close()
	l.wg.Wait()
	return err
}

func (l *Link) readLoop() {
	defer l.wg.Done()

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
			default:
				logging.Debug("Bridge link read ended",
					map[string]interface{}{"reason": err.Error()})
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			logging.Debug("Discarding malformed bridge broadcast",
				map[string]interface{}{"reason": err.Error()})
			continue
		}

		if l.handler != nil {
			l.handler(envelope.Type, envelope.Data)
		}
	}
}
