// Package transport turns a TCP byte stream into a channel of discrete
// messages and back. Every message travels as
//
//	[payload length (uint32 big-endian)] [payload]
//
// which is independent of, and wraps, the packet tags defined in
// [github.com/zsiec/remote64/internal/wire]. The transport is symmetric:
// server and client use the same Conn type.
package transport
