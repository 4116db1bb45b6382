package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"topsail/internal/game"
	"topsail/internal/phys"
	"topsail/internal/protocol"
)

// udpTurnScale converts a full-scale Q0.15 turn sample into radians of
// aim delta per input packet.
const udpTurnScale = 1.0

// udpSession is one datagram peer, keyed by source address.
type udpSession struct {
	addr     *net.UDPAddr
	playerID uint32
	name     string
	lastSeq  uint16
	hasSeq   bool
	snapSeq  uint16
	lastSeen time.Time
}

// UDPServer is the binary datagram skin over the same simulation. It
// shares the simulator mailbox with the WebSocket gateway, so both
// protocols feed one authoritative world.
type UDPServer struct {
	log     *zap.SugaredLogger
	metrics *Metrics
	sim     *Simulator
	port    int

	mu    sync.Mutex
	conn  *net.UDPConn
	peers map[string]*udpSession
}

func NewUDPServer(log *zap.SugaredLogger, metrics *Metrics, sim *Simulator, port int) *UDPServer {
	u := &UDPServer{
		log:     log,
		metrics: metrics,
		sim:     sim,
		port:    port,
		peers:   make(map[string]*udpSession),
	}
	sim.AddBroadcastHook(u.sendSnapshots)
	sim.AddActivitySource(u.activity)
	return u
}

// activity reports datagram peers for the broadcast cadence. Any traffic
// counts: the binary skin sends input packets continuously while playing.
func (u *UDPServer) activity(cutoff time.Time) (total, active int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, sess := range u.peers {
		total++
		if sess.lastSeen.After(cutoff) {
			active++
		}
	}
	return total, active
}

// ListenAndServe reads datagrams until ctx is cancelled.
func (u *UDPServer) ListenAndServe(ctx context.Context) error {
	addr := &net.UDPAddr{Port: u.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("udp listen: %w", err)
	}
	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	u.log.Infow("udp gateway listening", "port", u.port)

	buf := make([]byte, protocol.MaxPacketSize+100)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			u.log.Warnw("udp read error", "err", err)
			continue
		}
		if n < 2 || n > protocol.MaxPacketSize {
			u.metrics.MalformedFrames.Inc()
			continue
		}
		u.handleDatagram(buf[:n], peer)
	}
}

func (u *UDPServer) handleDatagram(data []byte, peer *net.UDPAddr) {
	switch data[0] {
	case protocol.PacketClientHandshake:
		u.handleHandshake(data, peer)
	case protocol.PacketClientInput:
		u.handleInput(data, peer)
	case protocol.PacketHeartbeat:
		u.touch(peer)
	case protocol.PacketClientAck:
		u.touch(peer)
	default:
		u.metrics.UnknownMessages.Inc()
	}
}

// Handshake datagram: type, version, name length, name bytes.
func (u *UDPServer) handleHandshake(data []byte, peer *net.UDPAddr) {
	if data[1] != protocol.Version || len(data) < 3 {
		u.metrics.MalformedFrames.Inc()
		return
	}
	nameLen := int(data[2])
	if len(data) < 3+nameLen {
		u.metrics.MalformedFrames.Inc()
		return
	}
	name := sanitizeName(string(data[3 : 3+nameLen]))

	key := peer.String()
	u.mu.Lock()
	existing := u.peers[key]
	u.mu.Unlock()

	var playerID uint32
	if existing != nil {
		// Retransmitted handshake; reuse the player.
		playerID = existing.playerID
		existing.lastSeen = time.Now()
	} else {
		u.sim.DoSync(func(w *game.WorldState) {
			playerID = w.AddPlayer(name).ID
		})
		u.mu.Lock()
		u.peers[key] = &udpSession{
			addr:     peer,
			playerID: playerID,
			name:     name,
			lastSeen: time.Now(),
		}
		u.mu.Unlock()
		u.metrics.HandshakesTotal.Inc()
		u.log.Infow("udp player joined", "player", playerID, "name", name, "remote", key)
	}

	// Response: type, version, player id, server time.
	resp := make([]byte, 10)
	resp[0] = protocol.PacketServerHandshake
	resp[1] = protocol.Version
	binary.LittleEndian.PutUint32(resp[2:], playerID)
	binary.LittleEndian.PutUint32(resp[6:], uint32(time.Now().UnixMilli()))
	u.write(resp, peer)
}

func (u *UDPServer) handleInput(data []byte, peer *net.UDPAddr) {
	p, err := protocol.DecodeInput(data)
	if err != nil {
		u.metrics.MalformedFrames.Inc()
		return
	}

	key := peer.String()
	u.mu.Lock()
	sess := u.peers[key]
	if sess == nil {
		u.mu.Unlock()
		return
	}
	if sess.hasSeq && !protocol.SeqGreater(p.Seq, sess.lastSeq) {
		// Stale or duplicate datagram.
		u.mu.Unlock()
		u.metrics.InputsRejected.Inc()
		return
	}
	sess.lastSeq = p.Seq
	sess.hasSeq = true
	sess.lastSeen = time.Now()
	playerID := sess.playerID
	u.mu.Unlock()

	thrust := phys.Q15ToFloat(p.Thrust)
	turnDelta := phys.Q15ToFloat(p.Turn) * udpTurnScale
	actions := p.Actions
	nowMs := time.Now().UnixMilli()

	u.metrics.InputsAccepted.Inc()
	u.sim.Do(func(w *game.WorldState) {
		pl := w.PlayerByID(playerID)
		if pl == nil {
			return
		}
		rot := phys.NormalizeAngle(pl.Input.Rotation + turnDelta)
		mv := phys.Forward(rot).Scale(clampF(thrust, -1, 1))
		moving := math.Abs(thrust) > 0.01
		upd := game.InputUpdate{
			Movement: &mv,
			IsMoving: &moving,
			Rotation: &rot,
		}
		if err := w.ApplyInput(playerID, upd); err != nil {
			return
		}
		for _, a := range udpActions(actions, nowMs) {
			act := a
			_ = w.ApplyInput(playerID, game.InputUpdate{Action: &act})
		}
	})
}

func udpActions(bits uint16, nowMs int64) []game.Action {
	var out []game.Action
	if bits&protocol.InputActionFire != 0 {
		out = append(out, game.Action{Kind: game.ActionFireCannon, FireAll: true, QueuedMs: nowMs})
	}
	if bits&protocol.InputActionJump != 0 {
		out = append(out, game.Action{Kind: game.ActionJump, QueuedMs: nowMs})
	}
	if bits&protocol.InputActionInteract != 0 {
		out = append(out, game.Action{Kind: game.ActionInteract, QueuedMs: nowMs})
	}
	if bits&protocol.InputActionReload != 0 {
		out = append(out, game.Action{Kind: game.ActionReload, QueuedMs: nowMs})
	}
	return out
}

func (u *UDPServer) touch(peer *net.UDPAddr) {
	u.mu.Lock()
	if sess := u.peers[peer.String()]; sess != nil {
		sess.lastSeen = time.Now()
	}
	u.mu.Unlock()
}

// sendSnapshots runs on the simulation goroutine at broadcast cadence.
// It quantizes the world once, splits it across datagrams, and prunes
// idle peers.
func (u *UDPServer) sendSnapshots(w *game.WorldState) {
	u.mu.Lock()
	if u.conn == nil || len(u.peers) == 0 {
		u.mu.Unlock()
		return
	}
	now := time.Now()
	peers := make([]*udpSession, 0, len(u.peers))
	var stale []uint32
	for key, sess := range u.peers {
		if now.Sub(sess.lastSeen) > idleTimeout {
			stale = append(stale, sess.playerID)
			delete(u.peers, key)
			u.metrics.SessionTimeouts.Inc()
			continue
		}
		peers = append(peers, sess)
	}
	u.mu.Unlock()

	// Running on the sim goroutine, so removal is immediate.
	for _, id := range stale {
		w.RemovePlayer(id)
		u.log.Infow("udp peer timed out", "player", id)
	}
	if len(peers) == 0 {
		return
	}

	entities := protocol.QuantizeWorld(w)
	serverTime := uint32(w.TimestampMs)
	for _, sess := range peers {
		for off := 0; off < len(entities) || off == 0; off += protocol.MaxSnapshotEntities {
			end := off + protocol.MaxSnapshotEntities
			if end > len(entities) {
				end = len(entities)
			}
			sess.snapSeq++
			pkt, err := protocol.EncodeSnapshot(protocol.SnapshotHeader{
				ServerTime: serverTime,
				BaseID:     0, // full snapshot
				SnapID:     sess.snapSeq,
			}, entities[off:end])
			if err != nil {
				u.log.Errorw("snapshot encode failed", "err", err)
				break
			}
			u.write(pkt, sess.addr)
			u.metrics.SnapshotsSent.Inc()
			u.metrics.SnapshotBytes.Add(float64(len(pkt)))
		}
	}
}

func (u *UDPServer) write(data []byte, peer *net.UDPAddr) {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.WriteToUDP(data, peer); err != nil {
		u.log.Debugw("udp write failed", "remote", peer.String(), "err", err)
	}
}

// PeerCount reports connected datagram peers.
func (u *UDPServer) PeerCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.peers)
}
