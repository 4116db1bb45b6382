package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"topsail/internal/protocol"
)

// Connection timing.
const (
	dialTimeout      = 10 * time.Second
	maxDialAttempts  = 5
	initialBackoff   = 500 * time.Millisecond
	backoffFactor    = 1.5
	transportPingGap = 15 * time.Second
)

// Handlers receive decoded server messages. Nil fields are skipped.
type Handlers struct {
	OnSnapshot func(gs protocol.GameState, receivedAtMs int64)
	OnAck      func(ack protocol.MessageAck)
	OnPong     func(pong protocol.Pong)
	OnClose    func(err error)
}

// Transport is the WebSocket client connection: it dials with backoff,
// performs the handshake, and pumps decoded messages to the handlers.
type Transport struct {
	log      *zap.SugaredLogger
	url      string
	name     string
	encoding string

	mu   sync.Mutex
	conn *websocket.Conn

	PlayerID   uint32
	ServerTime int64
	Status     string
}

func NewTransport(log *zap.SugaredLogger, url, playerName, encoding string) *Transport {
	if encoding == "" {
		encoding = "json"
	}
	return &Transport{log: log, url: url, name: playerName, encoding: encoding}
}

// Connect dials the server, retrying with exponential backoff, then runs
// the handshake. Blocks until connected or all attempts fail.
func (t *Transport) Connect(ctx context.Context) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxDialAttempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.url, nil)
		cancel()
		if err == nil {
			if err := t.handshake(conn); err != nil {
				conn.Close()
				return err
			}
			t.mu.Lock()
			t.conn = conn
			t.mu.Unlock()
			return nil
		}
		lastErr = err
		t.log.Warnw("dial failed", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * backoffFactor)
	}
	return fmt.Errorf("connect: %d attempts failed: %w", maxDialAttempts, lastErr)
}

func (t *Transport) handshake(conn *websocket.Conn) error {
	hs := protocol.Handshake{
		Type:            protocol.MsgTypeHandshake,
		PlayerName:      t.name,
		ProtocolVersion: protocol.Version,
		Timestamp:       time.Now().UnixMilli(),
		Encoding:        t.encoding,
	}
	data, err := json.Marshal(hs)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	_, resp, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}
	var hr protocol.HandshakeResponse
	if err := json.Unmarshal(resp, &hr); err != nil || hr.Type != protocol.MsgTypeHandshakeResponse {
		return fmt.Errorf("unexpected handshake response")
	}
	if hr.Status == protocol.StatusError {
		return fmt.Errorf("handshake rejected: %s", hr.Message)
	}
	t.PlayerID = hr.PlayerID
	t.ServerTime = hr.ServerTime
	t.Status = hr.Status
	conn.SetReadDeadline(time.Time{})
	t.log.Infow("connected", "player", hr.PlayerID, "status", hr.Status)
	return nil
}

// Run pumps incoming frames to the handlers until the connection drops
// or ctx is cancelled.
func (t *Transport) Run(ctx context.Context, h Handlers) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		if h.OnClose != nil {
			h.OnClose(fmt.Errorf("not connected"))
		}
		return
	}

	go func() {
		ticker := time.NewTicker(transportPingGap)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				t.Send(protocol.Ping{Type: protocol.MsgTypePing, Timestamp: time.Now().UnixMilli()})
			}
		}
	}()

	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			if h.OnClose != nil {
				h.OnClose(err)
			}
			return
		}
		now := time.Now().UnixMilli()

		// Binary frames carry msgpack snapshots; text frames are JSON.
		if frameType == websocket.BinaryMessage {
			var gs protocol.GameState
			if err := msgpack.Unmarshal(data, &gs); err != nil {
				t.log.Debugw("bad msgpack frame", "err", err)
				continue
			}
			if h.OnSnapshot != nil {
				h.OnSnapshot(gs, now)
			}
			continue
		}

		msgType, err := protocol.ParseEnvelope(data)
		if err != nil {
			t.log.Debugw("bad frame", "err", err)
			continue
		}
		switch msgType {
		case protocol.MsgTypeGameState:
			var gs protocol.GameState
			if err := json.Unmarshal(data, &gs); err != nil {
				continue
			}
			if h.OnSnapshot != nil {
				h.OnSnapshot(gs, now)
			}
		case protocol.MsgTypeMessageAck:
			var ack protocol.MessageAck
			if err := json.Unmarshal(data, &ack); err != nil {
				continue
			}
			if h.OnAck != nil {
				h.OnAck(ack)
			}
		case protocol.MsgTypePong:
			var pong protocol.Pong
			if err := json.Unmarshal(data, &pong); err != nil {
				continue
			}
			if h.OnPong != nil {
				h.OnPong(pong)
			}
		}
	}
}

// Send marshals and writes one message. Safe for concurrent use.
func (t *Transport) Send(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the connection down.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
