package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"topsail/internal/config"
	"topsail/internal/game"
	"topsail/internal/phys"
	"topsail/internal/protocol"
)

const (
	maxNameLen     = 31
	defaultName    = "Sailor"
	maxMessageSize = 4096
	pingPeriod     = 20 * time.Second
)

// Server is the WebSocket gateway. It validates client messages and
// forwards them to the simulation task; it never touches world state
// directly.
type Server struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	metrics  *Metrics
	registry *Registry
	sim      *Simulator

	upgrader  websocket.Upgrader
	startedAt time.Time
}

// NewServer wires the gateway to a running simulator.
func NewServer(cfg *config.Config, log *zap.SugaredLogger, metrics *Metrics, registry *Registry, sim *Simulator) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		registry: registry,
		sim:      sim,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}
}

// ListenAndServe runs the WebSocket endpoint until ctx is cancelled.
func (srv *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWebSocket)

	hs := &http.Server{
		Addr:    fmt.Sprintf(":%d", srv.cfg.WSPort),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	srv.log.Infow("websocket gateway listening", "port", srv.cfg.WSPort)
	if err := hs.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (srv *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Warnw("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sess := newSession(conn)
	if err := srv.registry.Add(sess); err != nil {
		srv.log.Warnw("connection refused", "remote", r.RemoteAddr, "err", err)
		srv.writeHandshakeError(conn, "server full")
		conn.Close()
		return
	}
	srv.metrics.SessionsActive.Inc()

	go srv.writePump(sess)
	go srv.readPump(sess)
}

// readPump owns all reads on the connection. The first message must be a
// handshake; afterwards it dispatches gameplay messages until the
// connection drops or idles out.
func (srv *Server) readPump(sess *Session) {
	defer func() {
		srv.disconnect(sess)
		sess.conn.Close()
	}()
	sess.conn.SetReadLimit(maxMessageSize)

	if err := srv.awaitHandshake(sess); err != nil {
		srv.log.Infow("handshake failed", "remote", sess.remoteAddr, "err", err)
		return
	}

	for {
		sess.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				srv.log.Debugw("read error", "player", sess.PlayerID, "err", err)
			}
			return
		}
		if !sess.limiter.Allow() {
			srv.metrics.RateLimited.Inc()
			continue
		}
		srv.handleMessage(sess, data)
	}
}

func (srv *Server) awaitHandshake(sess *Session) error {
	sess.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := sess.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}

	// Rejections are written synchronously: the read pump is about to
	// close the connection, and a frame queued to the write pump would
	// race that close and usually be lost.
	var hs protocol.Handshake
	if err := json.Unmarshal(data, &hs); err != nil || hs.Type != protocol.MsgTypeHandshake {
		srv.metrics.MalformedFrames.Inc()
		srv.writeHandshakeError(sess.conn, "expected handshake")
		return fmt.Errorf("first message is not a handshake")
	}
	if hs.ProtocolVersion != protocol.Version {
		srv.writeHandshakeError(sess.conn, fmt.Sprintf("unsupported protocol version %d", hs.ProtocolVersion))
		return fmt.Errorf("protocol version %d", hs.ProtocolVersion)
	}

	sess.Name = sanitizeName(hs.PlayerName)
	if hs.Encoding == EncodingMsgpack {
		sess.Encoding = EncodingMsgpack
	}

	now := time.Now()
	status := protocol.StatusConnected
	if reservedID, ok := srv.registry.Claim(sess.Name, now); ok {
		// The previous connection dropped inside the grace window; the
		// player entity is still in the world.
		sess.PlayerID = reservedID
		status = protocol.StatusReconnected
		srv.metrics.Reconnects.Inc()
	} else {
		var playerID uint32
		srv.sim.DoSync(func(w *game.WorldState) {
			playerID = w.AddPlayer(sess.Name).ID
		})
		sess.PlayerID = playerID
	}
	// Response first, then the opening GAME_STATE containing this player,
	// and only then Bind: the broadcast loop skips unbound sessions, so
	// nothing can jump ahead of the response in the send queue.
	srv.sendJSON(sess, protocol.HandshakeResponse{
		Type:       protocol.MsgTypeHandshakeResponse,
		PlayerID:   sess.PlayerID,
		PlayerName: sess.Name,
		ServerTime: now.UnixMilli(),
		Status:     status,
	})
	var gs protocol.GameState
	srv.sim.DoSync(func(w *game.WorldState) {
		gs = protocol.SnapshotFromWorld(w)
	})
	srv.sendSnapshot(sess, gs)
	srv.registry.Bind(sess)
	srv.metrics.HandshakesTotal.Inc()

	srv.log.Infow("player joined", "player", sess.PlayerID, "name", sess.Name,
		"status", status, "encoding", sess.Encoding, "remote", sess.remoteAddr)
	return nil
}

// sendSnapshot queues one GAME_STATE frame in the session's negotiated
// encoding.
func (srv *Server) sendSnapshot(sess *Session, gs protocol.GameState) {
	var data []byte
	var err error
	if sess.Encoding == EncodingMsgpack {
		data, err = msgpack.Marshal(gs)
	} else {
		data, err = json.Marshal(gs)
	}
	if err != nil {
		srv.log.Errorw("snapshot marshal failed", "err", err)
		return
	}
	select {
	case sess.Send <- data:
	default:
		srv.log.Debugw("send buffer full, dropping snapshot", "player", sess.PlayerID)
	}
}

// handleMessage validates one gameplay frame and forwards the resulting
// intent update to the simulation task.
func (srv *Server) handleMessage(sess *Session, data []byte) {
	msgType, err := protocol.ParseEnvelope(data)
	if err != nil {
		srv.metrics.MalformedFrames.Inc()
		srv.ack(sess, protocol.AckInvalid)
		return
	}

	now := time.Now()
	var upd game.InputUpdate
	ok := true

	switch msgType {
	case protocol.MsgTypeMovementState:
		var m protocol.MovementState
		if err := json.Unmarshal(data, &m); err != nil {
			ok = false
			break
		}
		mag := math.Hypot(m.Movement.X, m.Movement.Y)
		if math.IsNaN(mag) || mag > game.MaxMovementMagnitude {
			ok = false
			break
		}
		mv := phys.Vec2{
			X: clampF(m.Movement.X, -1, 1),
			Y: clampF(m.Movement.Y, -1, 1),
		}
		moving := m.IsMoving
		upd.Movement = &mv
		upd.IsMoving = &moving

	case protocol.MsgTypeRotationUpdate:
		var m protocol.RotationUpdate
		if err := json.Unmarshal(data, &m); err != nil || !finiteF(m.Rotation) {
			ok = false
			break
		}
		rot := m.Rotation
		upd.Rotation = &rot

	case protocol.MsgTypeActionEvent:
		var m protocol.ActionEvent
		if err := json.Unmarshal(data, &m); err != nil {
			ok = false
			break
		}
		kind, known := actionKind(m.Action)
		if !known {
			ok = false
			break
		}
		upd.Action = &game.Action{Kind: kind, Target: m.Target, QueuedMs: now.UnixMilli()}

	case protocol.MsgTypeSailControl:
		var m protocol.SailControl
		if err := json.Unmarshal(data, &m); err != nil || !finiteF(m.DesiredOpenness) {
			ok = false
			break
		}
		open := clampF(m.DesiredOpenness, 0, 100) / 100
		upd.SailOpenTarget = &open

	case protocol.MsgTypeRudderControl:
		var m protocol.RudderControl
		if err := json.Unmarshal(data, &m); err != nil {
			ok = false
			break
		}
		rudder := 0.0
		if m.TurningLeft && !m.TurningRight {
			rudder = -1
		} else if m.TurningRight && !m.TurningLeft {
			rudder = 1
		}
		upd.Rudder = &rudder

	case protocol.MsgTypeSailAngleControl:
		var m protocol.SailAngleControl
		if err := json.Unmarshal(data, &m); err != nil || !finiteF(m.DesiredAngle) {
			ok = false
			break
		}
		angle := clampF(m.DesiredAngle, -60, 60) * math.Pi / 180
		upd.SailAngleTarget = &angle

	case protocol.MsgTypeCannonAim:
		var m protocol.CannonAim
		if err := json.Unmarshal(data, &m); err != nil || !finiteF(m.AimAngle) {
			ok = false
			break
		}
		aim := m.AimAngle
		upd.CannonAim = &aim

	case protocol.MsgTypeCannonFire:
		var m protocol.CannonFire
		if err := json.Unmarshal(data, &m); err != nil {
			ok = false
			break
		}
		upd.Action = &game.Action{
			Kind:      game.ActionFireCannon,
			QueuedMs:  now.UnixMilli(),
			FireAll:   m.FireAll,
			CannonIDs: m.CannonIDs,
		}

	case protocol.MsgTypePing:
		var m protocol.Ping
		_ = json.Unmarshal(data, &m)
		srv.sendJSON(sess, protocol.Pong{
			Type:       protocol.MsgTypePong,
			Timestamp:  m.Timestamp,
			ServerTime: now.UnixMilli(),
		})
		return

	default:
		srv.metrics.UnknownMessages.Inc()
		srv.ack(sess, protocol.AckInvalid)
		return
	}

	if !ok {
		srv.metrics.InputsRejected.Inc()
		srv.ack(sess, protocol.AckInvalid)
		return
	}

	playerID := sess.PlayerID
	if playerID == 0 {
		srv.ack(sess, protocol.AckNoPlayer)
		return
	}
	sess.noteInput(now)
	srv.metrics.InputsAccepted.Inc()
	// The ack is issued from the simulation task so a vanished player
	// (reconnect window lapsed between frames) is reported, not silently
	// swallowed. Session sends are non-blocking from any goroutine.
	srv.sim.Do(func(w *game.WorldState) {
		if err := w.ApplyInput(playerID, upd); err != nil {
			srv.log.Debugw("input dropped", "player", playerID, "err", err)
			srv.ack(sess, protocol.AckPlayerNotFound)
			return
		}
		srv.ack(sess, protocol.AckInputReceived)
	})
}

// writePump owns all writes on the connection.
func (srv *Server) writePump(sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()
	for {
		select {
		case <-sess.done:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-sess.Send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			msgType := websocket.TextMessage
			if len(data) > 0 && data[0] != '{' {
				msgType = websocket.BinaryMessage
			}
			if err := sess.conn.WriteMessage(msgType, data); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (srv *Server) disconnect(sess *Session) {
	srv.registry.Remove(sess, time.Now())
	sess.close()
	srv.metrics.SessionsActive.Dec()
	if sess.PlayerID != 0 {
		srv.log.Infow("player disconnected", "player", sess.PlayerID, "name", sess.Name)
	}
}

func (srv *Server) ack(sess *Session, status string) {
	srv.sendJSON(sess, protocol.MessageAck{Type: protocol.MsgTypeMessageAck, Status: status})
}

// sendJSON pushes a control message without blocking the caller. Slow
// consumers lose frames instead of stalling the gateway.
func (srv *Server) sendJSON(sess *Session, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		srv.log.Errorw("marshal failed", "err", err)
		return
	}
	select {
	case sess.Send <- data:
	default:
		srv.log.Debugw("send buffer full, dropping", "player", sess.PlayerID)
	}
}

func (srv *Server) writeHandshakeError(conn *websocket.Conn, msg string) {
	data, _ := json.Marshal(protocol.HandshakeResponse{
		Type:       protocol.MsgTypeHandshakeResponse,
		ServerTime: time.Now().UnixMilli(),
		Status:     protocol.StatusError,
		Message:    msg,
	})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, data)
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

func actionKind(s string) (game.ActionKind, bool) {
	switch game.ActionKind(s) {
	case game.ActionFireCannon, game.ActionJump, game.ActionInteract,
		game.ActionReload, game.ActionMount, game.ActionDismount:
		return game.ActionKind(s), true
	}
	return "", false
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finiteF(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
