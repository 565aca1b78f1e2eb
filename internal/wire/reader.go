package wire

import (
	"encoding/binary"
	"io"
)

// bufReader wraps a byte slice for sequential big-endian reads with bounds
// checking ahead of every slice operation.
type bufReader struct {
	data []byte
	pos  int
}

func newBufReader(data []byte) *bufReader {
	return &bufReader{data: data}
}

func (b *bufReader) remaining() int {
	return len(b.data) - b.pos
}

func (b *bufReader) readUint32() (uint32, error) {
	if b.remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *bufReader) readBytes(n int) ([]byte, error) {
	if n < 0 || n > b.remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	v := b.data[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}
