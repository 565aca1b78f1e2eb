// Package wire implements the remote64 application protocol codec: the
// one-byte tagged Packet variants exchanged between server and client, the
// ServerInfo capability record, and the Frame codec that bundles zstd
// compressed RGB video with raw float32 audio samples.
//
// This package performs no I/O. Message framing on the byte stream lives in
// [github.com/zsiec/remote64/internal/transport].
package wire
