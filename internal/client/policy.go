// Package client implements the viewer side of remote64: the socket that
// talks to the server, the buffer controller that keeps the local frame
// queue topped up, and the consumers that drain it.
package client

import "time"

// Policy decides how many frames to ask the server for given the current
// local backlog.
type Policy struct {
	// LowWater is the backlog below which a request is made.
	LowWater int
	// Floor is the minimum number of frames requested at once.
	Floor int
	// MinInterval is the minimum spacing between requests.
	MinInterval time.Duration
}

// DefaultPolicy tops the buffer up to 35 frames, at least 20 at a time, at
// most once a second.
var DefaultPolicy = Policy{LowWater: 35, Floor: 20, MinInterval: time.Second}

// Request returns the number of frames to request for backlog, and false if
// no request should be made.
func (p Policy) Request(backlog int) (uint32, bool) {
	if backlog >= p.LowWater {
		return 0, false
	}
	n := max(p.LowWater-backlog, p.Floor)
	if n <= 0 {
		return 0, false
	}
	return uint32(n), true
}
