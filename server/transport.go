package server

import "net"

// Sender abstracts the one thing the handshake manager and tick engine need
// from the UDP dispatcher: serialise, compress, and write a server message
// to a remote address. Keeping it as an interface lets tests substitute a
// recording fake instead of a real socket.
type Sender interface {
	SendTo(addr *net.UDPAddr, msgType uint8, sequence uint32, payload any, maxPlayers int) (int, error)
}

// UDPSender is the production Sender, writing through a single shared
// *net.UDPConn (spec.md §4.I: one socket, one receive loop, sends from any
// goroutine are safe on *net.UDPConn).
type UDPSender struct {
	conn *net.UDPConn
}

func NewUDPSender(conn *net.UDPConn) *UDPSender {
	return &UDPSender{conn: conn}
}

func (s *UDPSender) SendTo(addr *net.UDPAddr, msgType uint8, sequence uint32, payload any, maxPlayers int) (int, error) {
	raw, err := SerializeServerMessage(msgType, sequence, payload, maxPlayers)
	if err != nil {
		return 0, err
	}
	compressed, err := CompressPacket(raw)
	if err != nil {
		return 0, err
	}
	n, err := s.conn.WriteToUDP(compressed, addr)
	if err != nil {
		return n, ErrSocketError
	}
	return n, nil
}
