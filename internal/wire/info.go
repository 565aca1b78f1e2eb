package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Feature is a capability a server may advertise. Capability negotiation is
// advisory: the session manager does not enforce it.
type Feature byte

// Feature codes. Unrecognized codes decode to FeatureInvalid.
const (
	FeatureInvalid        Feature = 0x00
	FeatureLivePlayback   Feature = 0x01
	FeatureAudioRecording Feature = 0x02
	FeatureInputHandling  Feature = 0x03
)

func (f Feature) String() string {
	switch f {
	case FeatureLivePlayback:
		return "LivePlayback"
	case FeatureAudioRecording:
		return "AudioRecording"
	case FeatureInputHandling:
		return "InputHandling"
	default:
		return "Invalid"
	}
}

func featureFromByte(b byte) Feature {
	switch f := Feature(b); f {
	case FeatureLivePlayback, FeatureAudioRecording, FeatureInputHandling:
		return f
	default:
		return FeatureInvalid
	}
}

// ParseFeature maps a feature name (case-insensitive) to its code.
func ParseFeature(name string) (Feature, error) {
	for _, f := range []Feature{FeatureLivePlayback, FeatureAudioRecording, FeatureInputHandling} {
		if strings.EqualFold(strings.TrimSpace(name), f.String()) {
			return f, nil
		}
	}
	return FeatureInvalid, fmt.Errorf("unknown feature %q", name)
}

// ServerInfo describes a server: protocol magic, version and the features
// it was started with, in order.
type ServerInfo struct {
	Header   [4]byte
	Version  uint16
	Features []Feature
}

// NewServerInfo returns a ServerInfo carrying this implementation's header
// and version.
func NewServerInfo(features []Feature) ServerInfo {
	return ServerInfo{
		Header:   InfoHeader,
		Version:  InfoVersion,
		Features: features,
	}
}

// Has reports whether f is among the advertised features.
func (s ServerInfo) Has(f Feature) bool {
	for _, have := range s.Features {
		if have == f {
			return true
		}
	}
	return false
}

func (s ServerInfo) append(buf []byte) []byte {
	buf = append(buf, s.Header[:]...)
	buf = binary.BigEndian.AppendUint16(buf, s.Version)
	for _, f := range s.Features {
		buf = append(buf, byte(f))
	}
	return buf
}

// decodeServerInfo parses the InfoResponse payload (tag already stripped).
func decodeServerInfo(data []byte) (ServerInfo, error) {
	var info ServerInfo
	if len(data) < 6 {
		return info, &DecodeError{Field: "server_info", Err: ErrUnexpectedLength}
	}
	copy(info.Header[:], data[0:4])
	info.Version = binary.BigEndian.Uint16(data[4:6])
	for _, b := range data[6:] {
		info.Features = append(info.Features, featureFromByte(b))
	}
	return info, nil
}
