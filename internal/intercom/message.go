package intercom

import "github.com/zsiec/remote64/internal/wire"

// Message is the set of events carried between remote64 subsystems.
type Message interface {
	isMessage()
}

// Bus is the network type shared by the server and client processes.
type Bus = Network[Message]

// NewBus creates a Bus.
func NewBus(opts Options) *Bus { return New[Message](opts) }

// SocketPacket asks the owner of a network socket to send Packet.
type SocketPacket struct {
	Packet wire.Packet
}

// LatestFrame carries the most recent captured frame.
type LatestFrame struct {
	Frame wire.Frame
}

// BulkFrames carries frames received from the server, oldest first.
type BulkFrames struct {
	Frames []wire.Frame
}

// StartRecording is emitted when a client becomes the serviced session.
type StartRecording struct{}

// StopRecording is emitted when the serviced session goes away.
type StopRecording struct{}

// SessionJoined announces a new queued session.
type SessionJoined struct {
	ID   string
	Addr string
}

// SessionServiced announces the session that now receives frames.
type SessionServiced struct {
	ID string
}

// SessionLeft announces a removed session.
type SessionLeft struct {
	ID     string
	Reason string
}

// Kill tells every receiving loop to exit.
type Kill struct{}

func (SocketPacket) isMessage()    {}
func (LatestFrame) isMessage()     {}
func (BulkFrames) isMessage()      {}
func (StartRecording) isMessage()  {}
func (StopRecording) isMessage()   {}
func (SessionJoined) isMessage()   {}
func (SessionServiced) isMessage() {}
func (SessionLeft) isMessage()     {}
func (Kill) isMessage()            {}
