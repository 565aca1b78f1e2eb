package wire

import (
	"encoding/binary"
	"fmt"
)

// Packet type tags. These values are part of the wire format and must never
// be renumbered.
const (
	IDPing          byte = 0x01
	IDPong          byte = 0x02
	IDInfoRequest   byte = 0x03
	IDInfoResponse  byte = 0x04
	IDQueueRequest  byte = 0x05
	IDQueueResponse byte = 0x06
	IDFrameRequest  byte = 0x07
	IDFrameResponse byte = 0x08
	IDClose         byte = 0xFD
	IDRequestDenied byte = 0xFE
	IDUnknown       byte = 0xFF
)

// InfoHeader is the magic carried in every ServerInfo ("RM64").
var InfoHeader = [4]byte{0x52, 0x4D, 0x36, 0x34}

// InfoVersion is the protocol version advertised by this implementation.
const InfoVersion uint16 = 0x0000

// Packet is one application protocol message. The concrete variants are the
// value types declared in this file.
type Packet interface {
	// ID returns the one-byte tag written ahead of the payload.
	ID() byte
	appendPayload(buf []byte) []byte
}

// Ping asks the peer to answer with Pong.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// InfoRequest asks the server for its ServerInfo.
type InfoRequest struct{}

// InfoResponse carries the server's ServerInfo.
type InfoResponse struct {
	Info ServerInfo
}

// QueueRequest asks the server for the client's position in the queue.
type QueueRequest struct{}

// QueueResponse carries a zero-based queue position.
type QueueResponse struct {
	Position uint32
}

// FrameRequest asks the server for up to Count frames.
type FrameRequest struct {
	Count uint32
}

// FrameResponse carries a batch of frames, oldest first.
type FrameResponse struct {
	Frames []Frame
}

// RequestDenied tells a waiting client its request was refused.
type RequestDenied struct{}

// Close announces that the sender is going away.
type Close struct{}

// Unknown preserves a packet with an unrecognized tag. Raw holds every byte
// of the packet, the tag included.
type Unknown struct {
	Raw []byte
}

func (Ping) ID() byte          { return IDPing }
func (Pong) ID() byte          { return IDPong }
func (InfoRequest) ID() byte   { return IDInfoRequest }
func (InfoResponse) ID() byte  { return IDInfoResponse }
func (QueueRequest) ID() byte  { return IDQueueRequest }
func (QueueResponse) ID() byte { return IDQueueResponse }
func (FrameRequest) ID() byte  { return IDFrameRequest }
func (FrameResponse) ID() byte { return IDFrameResponse }
func (RequestDenied) ID() byte { return IDRequestDenied }
func (Close) ID() byte         { return IDClose }
func (Unknown) ID() byte       { return IDUnknown }

func (Ping) appendPayload(buf []byte) []byte          { return buf }
func (Pong) appendPayload(buf []byte) []byte          { return buf }
func (InfoRequest) appendPayload(buf []byte) []byte   { return buf }
func (QueueRequest) appendPayload(buf []byte) []byte  { return buf }
func (RequestDenied) appendPayload(buf []byte) []byte { return buf }
func (Close) appendPayload(buf []byte) []byte         { return buf }

func (p InfoResponse) appendPayload(buf []byte) []byte {
	return p.Info.append(buf)
}

func (p QueueResponse) appendPayload(buf []byte) []byte {
	return binary.BigEndian.AppendUint32(buf, p.Position)
}

func (p FrameRequest) appendPayload(buf []byte) []byte {
	return binary.BigEndian.AppendUint32(buf, p.Count)
}

func (p FrameResponse) appendPayload(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Frames)))
	for _, f := range p.Frames {
		data := EncodeFrame(f)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return buf
}

func (p Unknown) appendPayload(buf []byte) []byte {
	return append(buf, p.Raw...)
}

// Encode serializes p as its tag byte followed by the variant's fields.
func Encode(p Packet) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, p.ID())
	return p.appendPayload(buf)
}

// Decode parses a packet. Unrecognized tags decode to Unknown rather than
// failing so that older peers tolerate newer message types.
func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	switch data[0] {
	case IDPing:
		return Ping{}, nil
	case IDPong:
		return Pong{}, nil
	case IDInfoRequest:
		return InfoRequest{}, nil
	case IDQueueRequest:
		return QueueRequest{}, nil
	case IDRequestDenied:
		return RequestDenied{}, nil
	case IDClose:
		return Close{}, nil
	case IDInfoResponse:
		info, err := decodeServerInfo(data[1:])
		if err != nil {
			return nil, err
		}
		return InfoResponse{Info: info}, nil
	case IDQueueResponse:
		if len(data) != 5 {
			return nil, &DecodeError{Field: "queue_position", Err: ErrUnexpectedLength}
		}
		return QueueResponse{Position: binary.BigEndian.Uint32(data[1:5])}, nil
	case IDFrameRequest:
		if len(data) < 5 {
			return nil, &DecodeError{Field: "frame_count", Err: ErrUnexpectedLength}
		}
		return FrameRequest{Count: binary.BigEndian.Uint32(data[1:5])}, nil
	case IDFrameResponse:
		return decodeFrameResponse(data)
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Raw: raw}, nil
	}
}

func decodeFrameResponse(data []byte) (Packet, error) {
	if len(data) < 5 {
		return nil, &DecodeError{Field: "frame_count", Err: ErrUnexpectedLength}
	}
	r := newBufReader(data[1:])
	count, _ := r.readUint32()

	// Every sub-record needs at least its 4-byte length, so a count larger
	// than that bound cannot be satisfied by this packet.
	if uint64(count) > uint64(r.remaining()/4) {
		return nil, &DecodeError{Field: "frame_count", Err: ErrTruncated}
	}

	frames := make([]Frame, 0, count)
	for i := uint32(0); i < count; i++ {
		n, err := r.readUint32()
		if err != nil {
			return nil, &DecodeError{Field: fmt.Sprintf("frame[%d].length", i), Err: ErrTruncated}
		}
		sub, err := r.readBytes(int(n))
		if err != nil {
			return nil, &DecodeError{Field: fmt.Sprintf("frame[%d]", i), Err: ErrTruncated}
		}
		frames = append(frames, DecodeFrame(sub))
	}
	return FrameResponse{Frames: frames}, nil
}

// Name returns a short human-readable name for p, used in log lines.
func Name(p Packet) string {
	switch p.(type) {
	case Ping:
		return "Ping"
	case Pong:
		return "Pong"
	case InfoRequest:
		return "InfoRequest"
	case InfoResponse:
		return "InfoResponse"
	case QueueRequest:
		return "QueueRequest"
	case QueueResponse:
		return "QueueResponse"
	case FrameRequest:
		return "FrameRequest"
	case FrameResponse:
		return "FrameResponse"
	case RequestDenied:
		return "RequestDenied"
	case Close:
		return "Close"
	case Unknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Packet(0x%02x)", p.ID())
	}
}
