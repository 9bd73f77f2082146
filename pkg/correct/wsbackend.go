package correct

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WSBackend is a Backend for correction providers that speak a
// websocket-framed request/delta protocol instead of HTTP SSE: one
// request message, then a stream of text deltas terminated by an "EOS"
// control message or an "ERR:" prefixed error. The connection-reuse and
// read-loop shape follows the same pattern as a streaming audio client,
// with text deltas in place of audio-chunk payloads.
type WSBackend struct {
	name string
	url  string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSBackend builds a correction backend against a websocket endpoint
// that accepts {"system":..., "prompt":...} and replies with a sequence of
// text-message deltas.
func NewWSBackend(name, endpointURL string) *WSBackend {
	return &WSBackend{name: name, url: endpointURL}
}

func (b *WSBackend) Name() string { return b.name }

func (b *WSBackend) getConn(ctx context.Context) (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("correct: dial %s: %w", b.name, err)
	}
	b.conn = conn
	return conn, nil
}

func (b *WSBackend) Invoke(ctx context.Context, systemPrompt, userPrompt string, onDelta func(string)) (string, error) {
	conn, err := b.getConn(ctx)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	req := map[string]string{"system": systemPrompt, "prompt": userPrompt}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		b.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "write failed")
		return "", fmt.Errorf("correct: %s request: %w", b.name, err)
	}

	var collected string
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			b.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "read failed")
			return collected, fmt.Errorf("correct: %s read: %w", b.name, err)
		}
		if messageType != websocket.MessageText {
			continue
		}
		msg := string(payload)
		switch {
		case msg == "EOS":
			return collected, nil
		case len(msg) >= 4 && msg[:4] == "ERR:":
			return collected, fmt.Errorf("correct: %s error: %s", b.name, msg[4:])
		case msg != "":
			collected += msg
			if onDelta != nil {
				onDelta(msg)
			}
		}
	}
}

func (b *WSBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		err := b.conn.Close(websocket.StatusNormalClosure, "")
		b.conn = nil
		return err
	}
	return nil
}
