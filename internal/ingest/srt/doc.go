// Package srt receives capture frames over SRT (Secure Reliable Transport),
// in both listener mode (Server) for capture processes that publish to us
// and caller mode (Caller) for capture processes that listen.
//
// The byte stream carries the same length-prefixed messages as the client
// transport; each message is one frame in the wire frame encoding.
package srt
