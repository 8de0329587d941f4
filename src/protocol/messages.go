package protocol

// MessageType is the first byte of every packet.
type MessageType uint8

const (
	InputMsg MessageType = iota + 1
	ChecksumMsg
	QualityReportMsg
	QualityReplyMsg
	KeepAliveMsg
	DisconnectMsg
)

var messageTypeNames = map[MessageType]string{
	InputMsg:         "Input",
	ChecksumMsg:      "Checksum",
	QualityReportMsg: "QualityReport",
	QualityReplyMsg:  "QualityReply",
	KeepAliveMsg:     "KeepAlive",
	DisconnectMsg:    "Disconnect",
}

func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "Unknown"
}

// PlayerInputs is a run of consecutive confirmed inputs of one player,
// starting at StartFrame.
type PlayerInputs struct {
	Handle     uint32
	StartFrame int
	Frames     []uint32
}

// Ack acknowledges every input of Handle up to and including Frame.
type Ack struct {
	Handle uint32
	Frame  int
}

// InputMessage carries the sender's unacknowledged inputs, its
// acknowledgements of our inputs and its current frame.
type InputMessage struct {
	Inputs []PlayerInputs
	Acks   []Ack
	Frame  int
}

// ChecksumMessage carries the checksum of the sender's snapshot of Frame.
type ChecksumMessage struct {
	Frame    int
	Checksum uint64
}

// QualityReport asks the peer to echo Ping, and tells it our current frame.
type QualityReport struct {
	Frame int
	Ping  int64
}

// QualityReply echoes the Ping of a QualityReport.
type QualityReply struct {
	Pong int64
}

// KeepAlive is sent when there is nothing else to send.
type KeepAlive struct{}

// DisconnectNotice announces that the sender is leaving the session.
type DisconnectNotice struct{}
