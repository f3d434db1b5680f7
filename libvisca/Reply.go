package libvisca

import (
	"fmt"
	"net"
)

// ReplyOutcome is the meaning of a reply frame
type ReplyOutcome int

const (
	Unknown ReplyOutcome = iota
	Acknowledge
	Completion
	SequenceAbnormality
	MessageAbnormality
	Impossible
)

func (o ReplyOutcome) String() string {
	switch o {
	case Unknown:
		return "Unknown"
	case Acknowledge:
		return "Acknowledge"
	case Completion:
		return "Completion"
	case SequenceAbnormality:
		return "Sequence Abnormality"
	case MessageAbnormality:
		return "Message Abnormality"
	case Impossible:
		return "Impossible"
	}
	return fmt.Sprintf("ReplyOutcome(%d)", int(o))
}

// Reply is a classified message received from the camera
type Reply struct {
	Message *Message
	Outcome ReplyOutcome
	Source  net.Addr
}

// Classify maps a reply frame to its outcome.
// Control replies are matched without a terminator, VISCA replies including their trailing 0xFF.
func (c *Catalog) Classify(message *Message) ReplyOutcome {
	if message == nil {
		return Unknown
	}

	var table map[string]ReplyOutcome
	switch message.Header.PayloadType {
	case CONTROL_REPLY:
		table = c.model.ControlReplies
	case VISCA_REPLY:
		table = c.model.ViscaReplies
	default:
		return Unknown
	}

	if outcome, ok := table[string(message.Payload)]; ok {
		return outcome
	}
	return Unknown
}

// Classify maps a reply frame to its outcome using the given catalog
func Classify(message *Message, catalog *Catalog) ReplyOutcome {
	if catalog == nil {
		return Unknown
	}
	return catalog.Classify(message)
}
