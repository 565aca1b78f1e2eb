package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"reflect"
	"testing"
)

func testPattern(res Resolution, seed byte) []byte {
	buf := make([]byte, res.VideoLen())
	for i := range buf {
		buf[i] = byte(i/3) ^ seed
	}
	return buf
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	res := DefaultResolution
	f := Frame{
		Video: testPattern(res, 0x5A),
		Audio: []float32{0, 1, -1, 0.123, float32(math.Inf(1)), math.SmallestNonzeroFloat32},
	}

	data := EncodeFrame(f)
	if len(data) >= len(f.Video) {
		t.Errorf("encoded %d bytes, expected compression below %d", len(data), len(f.Video))
	}

	got := DecodeFrame(data)
	if len(got.Video) != res.VideoLen() {
		t.Fatalf("video len = %d, want %d", len(got.Video), res.VideoLen())
	}
	if !bytes.Equal(got.Video, f.Video) {
		t.Fatal("video bytes differ after round trip")
	}
	if !reflect.DeepEqual(got.Audio, f.Audio) {
		t.Fatalf("audio = %v, want %v", got.Audio, f.Audio)
	}
}

func TestFrameLayout(t *testing.T) {
	t.Parallel()
	data := EncodeFrame(Frame{Audio: []float32{1.5}})
	want := []byte{0, 0, 0, 0, 0x3F, 0xC0, 0, 0}
	if !bytes.Equal(data, want) {
		t.Fatalf("got %x, want %x", data, want)
	}
}

func TestDecodeFrameShortInput(t *testing.T) {
	t.Parallel()
	for _, data := range [][]byte{nil, {0}, {0, 0, 0}} {
		f := DecodeFrame(data)
		if f.Video != nil || f.Audio != nil {
			t.Errorf("len %d: got %+v, want empty frame", len(data), f)
		}
	}
}

func TestDecodeFrameDeclaredLengthPastEnd(t *testing.T) {
	t.Parallel()
	data := binary.BigEndian.AppendUint32(nil, 100)
	data = append(data, 1, 2, 3)
	f := DecodeFrame(data)
	if f.Video != nil || f.Audio != nil {
		t.Fatalf("got %+v, want empty frame", f)
	}
}

func TestDecodeFrameDropsPartialSample(t *testing.T) {
	t.Parallel()
	data := EncodeFrame(Frame{Audio: []float32{2, 3}})
	data = append(data, 0xAB, 0xCD)

	f := DecodeFrame(data)
	if !reflect.DeepEqual(f.Audio, []float32{2, 3}) {
		t.Fatalf("audio = %v, want [2 3]", f.Audio)
	}
}

func TestDecodeFrameCorruptVideo(t *testing.T) {
	t.Parallel()
	data := binary.BigEndian.AppendUint32(nil, 4)
	data = append(data, 0xDE, 0xAD, 0xBE, 0xEF)
	data = binary.BigEndian.AppendUint32(data, math.Float32bits(0.5))

	f := DecodeFrame(data)
	if len(f.Video) != 0 {
		t.Fatalf("corrupt block produced %d video bytes", len(f.Video))
	}
	if !reflect.DeepEqual(f.Audio, []float32{0.5}) {
		t.Fatalf("audio = %v, want [0.5]", f.Audio)
	}
}

func TestEncodeFrameOversizedVideo(t *testing.T) {
	t.Parallel()
	data := EncodeFrame(Frame{Video: make([]byte, MaxVideoSize+1)})
	if binary.BigEndian.Uint32(data) != 0 {
		t.Fatal("oversized video should degrade to an empty block")
	}
}

func TestResolutionVideoLen(t *testing.T) {
	t.Parallel()
	if got := DefaultResolution.VideoLen(); got != 720*480*3 {
		t.Fatalf("got %d, want %d", got, 720*480*3)
	}
}
