package wire

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// MaxVideoSize bounds both the raw video accepted for compression and the
// output of decompression. It comfortably exceeds any console framebuffer.
const MaxVideoSize = 64 << 20

// Resolution is the deployment-wide framebuffer geometry. It is not carried
// in-band; both ends are configured with the same value.
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// DefaultResolution is the NTSC console capture size.
var DefaultResolution = Resolution{Width: 720, Height: 480}

// VideoLen returns the byte length of one RGB24 framebuffer.
func (r Resolution) VideoLen() int {
	return r.Width * r.Height * 3
}

// Frame is one unit of synchronized media: an RGB24 framebuffer and the run
// of interleaved audio samples captured alongside it. An empty Video means
// no image is available for this frame.
type Frame struct {
	Video []byte
	Audio []float32
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

// zstd level 3 corresponds to SpeedDefault.
func getEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1))
	})
	return encoder, encoderErr
}

func getDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil,
			zstd.WithDecoderMaxMemory(MaxVideoSize))
	})
	return decoder, decoderErr
}

// compressVideo returns the compressed block for video. Failures degrade to
// an empty block so that the audio still reaches the peer.
func compressVideo(video []byte) []byte {
	if len(video) == 0 {
		return nil
	}
	if len(video) > MaxVideoSize {
		slog.Warn("video too large to compress, sending empty image", "bytes", len(video))
		return nil
	}
	enc, err := getEncoder()
	if err != nil {
		slog.Warn("failed to compress video, sending empty image", "error", err)
		return nil
	}
	return enc.EncodeAll(video, make([]byte, 0, len(video)/4))
}

func decompressVideo(block []byte) []byte {
	if len(block) == 0 {
		return nil
	}
	dec, err := getDecoder()
	if err != nil {
		slog.Warn("zstd decoder unavailable", "error", err)
		return nil
	}
	video, err := dec.DecodeAll(block, nil)
	if err != nil {
		slog.Warn("failed to decompress video", "error", err)
		return nil
	}
	if len(video) == 0 {
		return nil
	}
	return video
}

// EncodeFrame serializes f as
// [compressed video length (uint32 BE)] [compressed video] [float32 BE samples...].
func EncodeFrame(f Frame) []byte {
	block := compressVideo(f.Video)

	buf := make([]byte, 0, 4+len(block)+4*len(f.Audio))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(block)))
	buf = append(buf, block...)
	for _, s := range f.Audio {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(s))
	}
	return buf
}

// DecodeFrame parses a frame produced by EncodeFrame. It never fails: input
// too short for its declared video block yields an empty Frame, and a tail
// shorter than one sample is dropped.
func DecodeFrame(data []byte) Frame {
	r := newBufReader(data)
	n, err := r.readUint32()
	if err != nil {
		return Frame{}
	}
	block, err := r.readBytes(int(n))
	if err != nil {
		return Frame{}
	}

	var f Frame
	f.Video = decompressVideo(block)

	if count := r.remaining() / 4; count > 0 {
		f.Audio = make([]float32, count)
		for i := range f.Audio {
			bits, _ := r.readUint32()
			f.Audio[i] = math.Float32frombits(bits)
		}
	}
	return f
}
