package server

import (
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// dscpExpeditedForwarding marks outbound gameplay traffic for better QoS
// treatment on routers that honour DSCP, the way
// other_examples/Jay-Day-simple64-netplay-server__udp.go tags its netplay
// socket.
const dscpExpeditedForwarding = 0xB8

// DispatcherStats are process-wide counters not attributable to a single
// match (pre-handshake drops, malformed datagrams), surfaced by the
// observability endpoints.
type DispatcherStats struct {
	PacketsReceived int64
	UnknownPlayer   int64
	DecodeErrors    int64
}

func (s *DispatcherStats) addReceived()     { atomic.AddInt64(&s.PacketsReceived, 1) }
func (s *DispatcherStats) addUnknownPlayer() { atomic.AddInt64(&s.UnknownPlayer, 1) }
func (s *DispatcherStats) addDecodeError()   { atomic.AddInt64(&s.DecodeErrors, 1) }

// Dispatcher is the single UDP receive loop described in spec.md §4.I: one
// socket, decompress, parse, look up, dispatch. It also carries the
// non-host proxy path, which never parses or mutates match state.
type Dispatcher struct {
	conn      *net.UDPConn
	registry  *Registry
	handshake *HandshakeManager
	sender    Sender
	Stats     DispatcherStats

	proxyMode      bool
	proxyHostAddr  *net.UDPAddr
	proxyLocalAddr atomic.Pointer[net.UDPAddr]
}

// NewDispatcher builds a Dispatcher bound to conn and applies best-effort
// QoS marking to outbound datagrams.
func NewDispatcher(conn *net.UDPConn, registry *Registry, handshake *HandshakeManager, sender Sender) *Dispatcher {
	applyQoSMarking(conn)
	return &Dispatcher{conn: conn, registry: registry, handshake: handshake, sender: sender}
}

// EnableProxyMode switches the dispatcher into non-host-proxy forwarding:
// datagrams from hostAddr are relayed to whichever client last sent a
// datagram, and vice versa, with no parsing or state mutation (spec.md §4.I).
func (d *Dispatcher) EnableProxyMode(hostAddr *net.UDPAddr) {
	d.proxyMode = true
	d.proxyHostAddr = hostAddr
}

func applyQoSMarking(conn *net.UDPConn) {
	if err := ipv4.NewConn(conn).SetTOS(dscpExpeditedForwarding); err != nil {
		if err := ipv6.NewConn(conn).SetTrafficClass(dscpExpeditedForwarding); err != nil {
			Log.Debugw("QoS marking unsupported on this socket", "err", err)
		}
	}
}

// Run blocks, reading and dispatching datagrams until running reports
// false. Ordering is strict: each datagram is handled to completion on this
// goroutine before the next read, matching spec.md §5's single-dispatcher
// ordering guarantee.
func (d *Dispatcher) Run(running *atomic.Bool) {
	buf := make([]byte, MaxPacketBytes)
	for running.Load() {
		d.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !running.Load() {
				return
			}
			Log.Warnw("udp read error", "err", err)
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		d.handleDatagram(addr, datagram)
	}
}

func (d *Dispatcher) handleDatagram(addr *net.UDPAddr, compressed []byte) {
	d.Stats.addReceived()

	if d.proxyMode {
		d.forwardProxy(addr, compressed)
		return
	}

	raw, err := DecompressPacket(compressed, MaxPacketBytes)
	if err != nil {
		d.Stats.addDecodeError()
		Log.Warnw("decompress failed", "addr", addr.String(), "err", err)
		return
	}

	msg, err := ParseClientMessage(raw)
	if err != nil {
		d.Stats.addDecodeError()
		Log.Warnw("parse failed", "addr", addr.String(), "err", err)
		return
	}

	if newConn, ok := msg.Payload.(NewConnectionPayload); ok {
		d.handshake.HandleNewConnection(addr, newConn)
		return
	}

	player, match, ok := d.registry.LookupPlayer(playerKey(addr))
	if !ok {
		d.Stats.addUnknownPlayer()
		Log.Warnw("datagram from unregistered player", "addr", addr.String())
		return
	}
	if !player.acceptSequence(msg.Header.Sequence) {
		return
	}
	match.Stats.addBytesRecv(len(compressed))

	switch p := msg.Payload.(type) {
	case InputPayload:
		if ackFrame, ok := HandleInput(match, player, p); ok {
			seq := match.NextSequence()
			d.sender.SendTo(addr, MsgInputAck, seq, InputAckPayload{AckFrame: ackFrame}, match.MaxPlayers)
		}
	case PlayerInputAckPayload:
		HandlePlayerInputAck(player, p)
	case QualityDataPayload:
		d.handshake.HandleQualityData(player, p)
	case ReadyToStartMatchPayload:
		d.handshake.HandleReady(match, player, p)
	case DisconnectingPayload:
		d.handshake.HandleDisconnecting(player, p)
	case MatchResultPayload:
		Log.Infow("match result received", "matchId", match.MatchID,
			"playerIndex", player.PlayerIndex, "winningTeamIndex", p.WinningTeamIndex)
	case PlayerDisconnectedAckPayload:
		// Acknowledgement only; no server-side state to update.
	default:
		Log.Warnw("unhandled client payload", "addr", addr.String())
	}
}

func (d *Dispatcher) forwardProxy(addr *net.UDPAddr, raw []byte) {
	if udpAddrEqual(addr, d.proxyHostAddr) {
		local := d.proxyLocalAddr.Load()
		if local == nil {
			return
		}
		_, _ = d.conn.WriteToUDP(raw, local)
		return
	}
	d.proxyLocalAddr.Store(addr)
	_, _ = d.conn.WriteToUDP(raw, d.proxyHostAddr)
}

func udpAddrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
