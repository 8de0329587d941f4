package protocol

import (
	"fmt"

	"github.com/ugorji/go/codec"
)

var msgpackHandle = new(codec.MsgpackHandle)

// Encode serializes a message behind its type byte.
func Encode(msg interface{}) ([]byte, error) {
	var t MessageType

	switch msg.(type) {
	case *InputMessage:
		t = InputMsg
	case *ChecksumMessage:
		t = ChecksumMsg
	case *QualityReport:
		t = QualityReportMsg
	case *QualityReply:
		t = QualityReplyMsg
	case *KeepAlive:
		t = KeepAliveMsg
	case *DisconnectNotice:
		t = DisconnectMsg
	default:
		return nil, fmt.Errorf("unknown message %T", msg)
	}

	var body []byte
	enc := codec.NewEncoderBytes(&body, msgpackHandle)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}

	return append([]byte{byte(t)}, body...), nil
}

// Decode parses a packet produced by Encode. It returns the message as a
// pointer to one of the message structs.
func Decode(data []byte) (MessageType, interface{}, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty packet")
	}

	t := MessageType(data[0])

	var msg interface{}
	switch t {
	case InputMsg:
		msg = new(InputMessage)
	case ChecksumMsg:
		msg = new(ChecksumMessage)
	case QualityReportMsg:
		msg = new(QualityReport)
	case QualityReplyMsg:
		msg = new(QualityReply)
	case KeepAliveMsg:
		msg = new(KeepAlive)
	case DisconnectMsg:
		msg = new(DisconnectNotice)
	default:
		return t, nil, fmt.Errorf("unknown message type %d", data[0])
	}

	dec := codec.NewDecoderBytes(data[1:], msgpackHandle)
	if err := dec.Decode(msg); err != nil {
		return t, nil, fmt.Errorf("decoding %s: %w", t, err)
	}

	return t, msg, nil
}
