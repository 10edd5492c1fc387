package server

import (
	"encoding/binary"
	"fmt"
)

// Client message type tags (spec.md §4.B).
const (
	MsgNewConnection         uint8 = 1
	MsgInput                 uint8 = 2
	MsgPlayerInputAck        uint8 = 3
	MsgMatchResult           uint8 = 4
	MsgQualityData           uint8 = 5
	MsgDisconnecting         uint8 = 6
	MsgPlayerDisconnectedAck uint8 = 7
	MsgReadyToStartMatch     uint8 = 8
)

// Server message type tags (spec.md §4.B).
const (
	MsgNewConnectionReply       uint8 = 1
	MsgStartGame                uint8 = 2
	MsgInputAck                 uint8 = 3
	MsgPlayerInput              uint8 = 4
	MsgRequestQualityData       uint8 = 6
	MsgPlayersStatus            uint8 = 7
	MsgKick                     uint8 = 8
	MsgChecksumAck              uint8 = 9
	MsgPlayersConfigurationData uint8 = 10
	MsgPlayerDisconnected       uint8 = 11
	MsgChangePort               uint8 = 12
)

// Fixed field widths for NewConnection strings.
const (
	matchIDFieldWidth        = 25
	keyFieldWidth            = 45
	environmentIDFieldWidth  = 25
	clientHeaderWireSize     = 5 // type:u8 + sequence:u32
)

// playerConfigValueTable is the fixed cycling table used by
// PlayersConfigurationData, per spec.md §4.B and the Open Question in §9.
var playerConfigValueTable = [4]uint16{0, 257, 512, 769}

// ClientHeader is the common 5-byte header on every inbound datagram.
type ClientHeader struct {
	Type     uint8
	Sequence uint32
}

// ClientPayload is implemented by every typed client payload; dispatch on
// the concrete type is a switch, never a virtual call.
type ClientPayload interface {
	clientPayload()
}

type NewConnectionPayload struct {
	MessageVersion uint16
	TeamID         uint16
	PlayerIndex    uint16
	MatchID        string
	Key            string
	EnvironmentID  string
}

type InputPayload struct {
	StartFrame       uint32
	ClientFrame      uint32
	NumFrames        uint8
	NumChecksums     uint8
	InputPerFrame    []uint32
	ChecksumPerFrame []uint32
}

type PlayerInputAckPayload struct {
	NumPlayers                  uint8
	AckFrame                    []uint32
	ServerMessageSequenceNumber uint32
}

type MatchResultPayload struct {
	NumPlayers        uint8
	LastFrameChecksum uint32
	WinningTeamIndex  uint8
}

type QualityDataPayload struct {
	ServerMessageSequenceNumber uint32
}

type DisconnectingPayload struct {
	Reason uint8
}

type PlayerDisconnectedAckPayload struct {
	PlayerDisconnectedArrayIndex uint8
}

type ReadyToStartMatchPayload struct {
	Ready uint8
}

func (NewConnectionPayload) clientPayload()         {}
func (InputPayload) clientPayload()                 {}
func (PlayerInputAckPayload) clientPayload()        {}
func (MatchResultPayload) clientPayload()           {}
func (QualityDataPayload) clientPayload()           {}
func (DisconnectingPayload) clientPayload()         {}
func (PlayerDisconnectedAckPayload) clientPayload() {}
func (ReadyToStartMatchPayload) clientPayload()     {}

// ClientMessage is a parsed, typed inbound datagram.
type ClientMessage struct {
	Header  ClientHeader
	Payload ClientPayload
}

// reader is a small little-endian cursor over a byte slice.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("%w: short read for u8", ErrMalformedPacket)
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, fmt.Errorf("%w: short read for u16", ErrMalformedPacket)
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("%w: short read for u32", ErrMalformedPacket)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// fixedString reads a zero-padded, zero-terminated string occupying exactly
// width bytes; the cursor always advances the full field width, even though
// the logical string stops at the first zero byte.
func (r *reader) fixedString(width int) (string, error) {
	if r.remaining() < width {
		return "", fmt.Errorf("%w: short read for fixed string field", ErrMalformedPacket)
	}
	field := r.buf[r.pos : r.pos+width]
	r.pos += width
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n]), nil
}

// ParseClientMessage decodes a decompressed client datagram into its typed
// header and payload. Unknown message types are reported via
// ErrUnknownMessageType; callers must drop the datagram, not treat it as
// fatal (spec.md §7).
func ParseClientMessage(buf []byte) (*ClientMessage, error) {
	if len(buf) < clientHeaderWireSize {
		return nil, fmt.Errorf("%w: buffer too small for client header", ErrMalformedPacket)
	}
	r := &reader{buf: buf}
	typ, err := r.u8()
	if err != nil {
		return nil, err
	}
	seq, err := r.u32()
	if err != nil {
		return nil, err
	}
	header := ClientHeader{Type: typ, Sequence: seq}

	var payload ClientPayload
	switch typ {
	case MsgNewConnection:
		messageVersion, err := r.u16()
		if err != nil {
			return nil, err
		}
		teamID, err := r.u16()
		if err != nil {
			return nil, err
		}
		playerIndex, err := r.u16()
		if err != nil {
			return nil, err
		}
		matchID, err := r.fixedString(matchIDFieldWidth)
		if err != nil {
			return nil, err
		}
		key, err := r.fixedString(keyFieldWidth)
		if err != nil {
			return nil, err
		}
		environmentID, err := r.fixedString(environmentIDFieldWidth)
		if err != nil {
			return nil, err
		}
		payload = NewConnectionPayload{
			MessageVersion: messageVersion,
			TeamID:         teamID,
			PlayerIndex:    playerIndex,
			MatchID:        matchID,
			Key:            key,
			EnvironmentID:  environmentID,
		}

	case MsgInput:
		startFrame, err := r.u32()
		if err != nil {
			return nil, err
		}
		clientFrame, err := r.u32()
		if err != nil {
			return nil, err
		}
		numFrames, err := r.u8()
		if err != nil {
			return nil, err
		}
		numChecksums, err := r.u8()
		if err != nil {
			return nil, err
		}
		inputPerFrame := make([]uint32, numFrames)
		for i := range inputPerFrame {
			inputPerFrame[i], err = r.u32()
			if err != nil {
				return nil, err
			}
		}
		checksumPerFrame := make([]uint32, numChecksums)
		for i := range checksumPerFrame {
			checksumPerFrame[i], err = r.u32()
			if err != nil {
				return nil, err
			}
		}
		payload = InputPayload{
			StartFrame:       startFrame,
			ClientFrame:      clientFrame,
			NumFrames:        numFrames,
			NumChecksums:     numChecksums,
			InputPerFrame:    inputPerFrame,
			ChecksumPerFrame: checksumPerFrame,
		}

	case MsgPlayerInputAck:
		numPlayers, err := r.u8()
		if err != nil {
			return nil, err
		}
		ackFrame := make([]uint32, numPlayers)
		for i := range ackFrame {
			ackFrame[i], err = r.u32()
			if err != nil {
				return nil, err
			}
		}
		seqNum, err := r.u32()
		if err != nil {
			return nil, err
		}
		payload = PlayerInputAckPayload{
			NumPlayers:                  numPlayers,
			AckFrame:                    ackFrame,
			ServerMessageSequenceNumber: seqNum,
		}

	case MsgMatchResult:
		numPlayers, err := r.u8()
		if err != nil {
			return nil, err
		}
		lastFrameChecksum, err := r.u32()
		if err != nil {
			return nil, err
		}
		winningTeamIndex, err := r.u8()
		if err != nil {
			return nil, err
		}
		payload = MatchResultPayload{
			NumPlayers:        numPlayers,
			LastFrameChecksum: lastFrameChecksum,
			WinningTeamIndex:  winningTeamIndex,
		}

	case MsgQualityData:
		seqNum, err := r.u32()
		if err != nil {
			return nil, err
		}
		payload = QualityDataPayload{ServerMessageSequenceNumber: seqNum}

	case MsgDisconnecting:
		reason, err := r.u8()
		if err != nil {
			return nil, err
		}
		payload = DisconnectingPayload{Reason: reason}

	case MsgPlayerDisconnectedAck:
		idx, err := r.u8()
		if err != nil {
			return nil, err
		}
		payload = PlayerDisconnectedAckPayload{PlayerDisconnectedArrayIndex: idx}

	case MsgReadyToStartMatch:
		ready, err := r.u8()
		if err != nil {
			return nil, err
		}
		payload = ReadyToStartMatchPayload{Ready: ready}

	default:
		return nil, fmt.Errorf("%w: type %d", ErrUnknownMessageType, typ)
	}

	return &ClientMessage{Header: header, Payload: payload}, nil
}

// writer is a small little-endian byte buffer builder.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)  { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *writer) i16(v int16) { w.u16(uint16(v)) }
func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func newServerHeader(w *writer, msgType uint8, sequence uint32) {
	w.u8(msgType)
	w.u32(sequence)
}

// NewConnectionReplyPayload is the server's reply to a NewConnection.
type NewConnectionReplyPayload struct {
	Success                     uint8
	MatchNumPlayers             uint8
	PlayerIndex                 uint8
	MatchDurationInFrames       uint32
	IsValidationServerDebugMode uint8
}

// InputAckPayload acknowledges the highest Input frame received.
type InputAckPayload struct {
	AckFrame uint32
}

// PlayerInputPayload is the per-tick broadcast addressed to one player.
// StartFrame and NumFrames are always padded to maxPlayers width on the
// wire, per the Open Question in spec.md §9, regardless of NumPlayers.
type PlayerInputPayload struct {
	NumPlayers            uint8
	StartFrame            []uint32
	NumFrames             []uint8
	NumPredictedOverrides uint16
	NumZeroedOverrides    uint16
	Ping                  int16
	PacketsLossPercent    int16
	Rift                  float64
	ChecksumAckFrame      uint32
	InputPerFrame         [][]uint32
}

// RequestQualityDataPayload solicits an RTT sample during the ping phase.
type RequestQualityDataPayload struct {
	Ping               int16
	PacketsLossPercent int16
}

// PlayersStatusPayload reports average ping per slot.
type PlayersStatusPayload struct {
	AveragePing []int16
}

// KickPayload tells a client it has been removed from the match.
type KickPayload struct {
	Reason uint16
	Param1 uint32
}

// ChecksumAckPayload acknowledges the highest consecutive checksum frame.
type ChecksumAckPayload struct {
	AckFrame uint32
}

// PlayersConfigurationDataPayload is broadcast at match start, once every
// player is ready and the ping phase is done, just before StartGame.
type PlayersConfigurationDataPayload struct {
	NumPlayers uint8
}

// PlayerDisconnectedPayload announces a timed-out or disconnected player.
type PlayerDisconnectedPayload struct {
	PlayerIndex                  uint8
	ShouldAITakeControl          uint8
	AITakeControlFrame           uint32
	PlayerDisconnectedArrayIndex uint16
}

// ChangePortPayload instructs a client to resend from a new source port
// (proxy / NAT rebind scenarios).
type ChangePortPayload struct {
	Port uint16
}

// SerializeServerMessage encodes a server message with its 5-byte header.
// maxPlayers governs the fixed-width arrays in PlayerInput and
// PlayersConfigurationData (spec.md §4.B, §9).
func SerializeServerMessage(msgType uint8, sequence uint32, payload any, maxPlayers int) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 64)}
	newServerHeader(w, msgType, sequence)

	switch p := payload.(type) {
	case NewConnectionReplyPayload:
		w.u8(p.Success)
		w.u8(p.MatchNumPlayers)
		w.u8(p.PlayerIndex)
		w.u32(p.MatchDurationInFrames)
		w.u8(p.IsValidationServerDebugMode)

	case nil:
		// StartGame carries an empty payload.

	case InputAckPayload:
		w.u32(p.AckFrame)

	case PlayerInputPayload:
		w.u8(p.NumPlayers)
		for i := 0; i < maxPlayers; i++ {
			var sf uint32
			if i < len(p.StartFrame) {
				sf = p.StartFrame[i]
			}
			w.u32(sf)
		}
		for i := 0; i < maxPlayers; i++ {
			var nf uint8
			if i < len(p.NumFrames) {
				nf = p.NumFrames[i]
			}
			w.u8(nf)
		}
		w.u16(p.NumPredictedOverrides)
		w.u16(p.NumZeroedOverrides)
		w.i16(p.Ping)
		w.i16(p.PacketsLossPercent)
		riftI16 := int16(roundHalfAwayFromZero(p.Rift * 100))
		w.i16(riftI16)
		w.u32(p.ChecksumAckFrame)
		for pi := 0; pi < maxPlayers; pi++ {
			var frames []uint32
			var numFrames uint8
			if pi < len(p.InputPerFrame) {
				frames = p.InputPerFrame[pi]
			}
			if pi < len(p.NumFrames) {
				numFrames = p.NumFrames[pi]
			}
			for f := uint8(0); f < numFrames; f++ {
				var v uint32
				if int(f) < len(frames) {
					v = frames[f]
				}
				w.u32(v)
			}
		}

	case RequestQualityDataPayload:
		w.i16(p.Ping)
		w.i16(p.PacketsLossPercent)

	case PlayersStatusPayload:
		for i := 0; i < maxPlayers; i++ {
			var ping int16
			if i < len(p.AveragePing) {
				ping = p.AveragePing[i]
			}
			w.i16(ping)
		}

	case KickPayload:
		w.u16(p.Reason)
		w.u32(p.Param1)

	case ChecksumAckPayload:
		w.u32(p.AckFrame)

	case PlayersConfigurationDataPayload:
		w.u8(p.NumPlayers)
		for i := 0; i < maxPlayers; i++ {
			w.u16(playerConfigValueTable[i%len(playerConfigValueTable)])
		}

	case PlayerDisconnectedPayload:
		w.u8(p.PlayerIndex)
		w.u8(p.ShouldAITakeControl)
		w.u32(p.AITakeControlFrame)
		w.u16(p.PlayerDisconnectedArrayIndex)

	case ChangePortPayload:
		w.u16(p.Port)

	default:
		return nil, fmt.Errorf("%w: unsupported server payload type %T", ErrMalformedPacket, payload)
	}

	return w.buf, nil
}

// roundHalfAwayFromZero matches the round() semantics used when packing
// rift into its int16 wire representation (spec.md §4.B, §9).
func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int64(v + 0.5))
	}
	return float64(int64(v - 0.5))
}
