package main

import (
	"testing"

	"github.com/zsiec/remote64/internal/wire"
)

func TestPatternFrameSizes(t *testing.T) {
	t.Parallel()
	res := wire.Resolution{Width: 16, Height: 4}
	p := newPattern(res, 60)

	f := p.next()
	if len(f.Video) != res.VideoLen() {
		t.Errorf("video len: got %d, want %d", len(f.Video), res.VideoLen())
	}
	if want := sampleRate / 60 * channels; len(f.Audio) != want {
		t.Errorf("audio len: got %d, want %d", len(f.Audio), want)
	}
	if p.seq != 1 {
		t.Errorf("seq: got %d, want 1", p.seq)
	}
}

func TestPatternMoves(t *testing.T) {
	t.Parallel()
	p := newPattern(wire.Resolution{Width: 64, Height: 2}, 30)
	a := p.next()
	for range 3 {
		p.next()
	}
	b := p.next()
	if string(a.Video) == string(b.Video) {
		t.Error("expected pattern to change between frames")
	}
}

func TestPatternSurvivesWire(t *testing.T) {
	t.Parallel()
	res := wire.Resolution{Width: 32, Height: 8}
	f := newPattern(res, 60).next()

	got := wire.DecodeFrame(wire.EncodeFrame(f))
	if string(got.Video) != string(f.Video) {
		t.Error("video changed across encode/decode")
	}
	if len(got.Audio) != len(f.Audio) {
		t.Fatalf("audio len: got %d, want %d", len(got.Audio), len(f.Audio))
	}
	for i := range f.Audio {
		if got.Audio[i] != f.Audio[i] {
			t.Fatalf("sample %d: got %v, want %v", i, got.Audio[i], f.Audio[i])
		}
	}
}
