package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxMessageSize bounds the declared length of a single inbound message.
// A batch of 35 compressed 720x480 frames stays well below it.
const MaxMessageSize = 64 << 20

// ErrMessageTooLarge reports a declared length above the reassembler limit.
// The stream cannot be resynchronized after it.
var ErrMessageTooLarge = errors.New("transport: message exceeds size limit")

// initialPayloadCap caps the up-front allocation for a declared length so a
// peer cannot make us reserve MaxMessageSize with a 4-byte header.
const initialPayloadCap = 1 << 20

// Reassembler splits a byte stream into length-prefixed messages. It holds
// the half-read state explicitly (partial header, declared length, payload
// so far) so it can be fed arbitrarily fragmented chunks.
type Reassembler struct {
	limit int

	header  [4]byte
	headerN int

	inMessage bool
	length    int
	payload   []byte
}

// NewReassembler creates a Reassembler that rejects messages above limit
// bytes. A limit of zero or less selects MaxMessageSize.
func NewReassembler(limit int) *Reassembler {
	if limit <= 0 {
		limit = MaxMessageSize
	}
	return &Reassembler{limit: limit}
}

// Feed consumes chunk and calls emit, in stream order, for every message it
// completes. The emitted slice is owned by the callee.
func (r *Reassembler) Feed(chunk []byte, emit func(msg []byte)) error {
	for {
		if !r.inMessage {
			if len(chunk) == 0 {
				return nil
			}
			n := copy(r.header[r.headerN:], chunk)
			r.headerN += n
			chunk = chunk[n:]
			if r.headerN < len(r.header) {
				return nil
			}

			length := binary.BigEndian.Uint32(r.header[:])
			r.headerN = 0
			if uint64(length) > uint64(r.limit) {
				return fmt.Errorf("%w: declared %d bytes, limit %d", ErrMessageTooLarge, length, r.limit)
			}
			r.length = int(length)
			r.inMessage = true
			r.payload = make([]byte, 0, min(r.length, initialPayloadCap))
		}

		n := min(r.length-len(r.payload), len(chunk))
		r.payload = append(r.payload, chunk[:n]...)
		chunk = chunk[n:]
		if len(r.payload) < r.length {
			return nil
		}

		msg := r.payload
		r.payload = nil
		r.inMessage = false
		emit(msg)
	}
}

// Pending reports the declared length and bytes received so far of the
// message currently being reassembled. ok is false between messages.
func (r *Reassembler) Pending() (declared, received int, ok bool) {
	if !r.inMessage {
		return 0, 0, false
	}
	return r.length, len(r.payload), true
}

// AppendFrame appends msg to buf with its length prefix.
func AppendFrame(buf, msg []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg)))
	return append(buf, msg...)
}
