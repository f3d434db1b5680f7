package libvisca

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/icza/bitio"
)

// PayloadType is the 2-byte type code at the start of every VISCA-over-IP frame
type PayloadType uint16

const (
	UNKNOWN_TYPE          PayloadType = 0x0000
	VISCA_COMMAND         PayloadType = 0x0100
	VISCA_INQUIRY         PayloadType = 0x0110
	VISCA_REPLY           PayloadType = 0x0111
	VISCA_SETTING_COMMAND PayloadType = 0x0120
	CONTROL_COMMAND       PayloadType = 0x0200
	CONTROL_REPLY         PayloadType = 0x0201
)

const (
	// HeaderLength is the fixed size of a frame header in bytes
	HeaderLength = 8
	// Terminator ends every VISCA command and reply body
	Terminator = 0xFF
	// DefaultPort is the UDP port VISCA-over-IP cameras listen on
	DefaultPort = 52381
)

var payloadTypeNames = map[PayloadType]string{
	VISCA_COMMAND:         "visca_command",
	VISCA_INQUIRY:         "visca_inquiry",
	VISCA_REPLY:           "visca_reply",
	VISCA_SETTING_COMMAND: "visca_setting_command",
	CONTROL_COMMAND:       "control_command",
	CONTROL_REPLY:         "control_reply",
}

// LookupPayloadType maps a raw type code to a known PayloadType, or UNKNOWN_TYPE
func LookupPayloadType(code uint16) PayloadType {
	if _, ok := payloadTypeNames[PayloadType(code)]; ok {
		return PayloadType(code)
	}
	return UNKNOWN_TYPE
}

func (t PayloadType) String() string {
	if name, ok := payloadTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%04X)", uint16(t))
}

// Header is a VISCA-over-IP frame header
type Header struct {
	PayloadType    PayloadType
	Length         uint16
	SequenceNumber uint32
}

func (h *Header) String() string {
	return fmt.Sprintf("{ Header PayloadType=%s, Length=%d, SequenceNumber=%d }", h.PayloadType, h.Length, h.SequenceNumber)
}

// Message represents a complete frame from/to the camera
type Message struct {
	Header  Header
	Payload []byte
	// RawType is the type code as it appeared on the wire
	RawType uint16
}

func (m *Message) String() string {
	return fmt.Sprintf("{ Message\n\tHeader=%s,\n\tPayload=\n%s\n}", m.Header.String(), hex.Dump(m.Payload))
}

// CreatePacket creates a packet ready to be sent to the camera.
// The header length is always taken from the payload.
func CreatePacket(header Header, payload []byte) []byte {
	header.Length = (uint16)(len(payload))

	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)
	w.WriteBits((uint64)(header.PayloadType), 16)
	w.WriteBits((uint64)(header.Length), 16)
	w.WriteBits((uint64)(header.SequenceNumber), 32)
	w.Write(payload)
	return buf.Bytes()
}

// Wrap frames a payload with the type, length and sequence number header
func Wrap(payloadType PayloadType, sequenceNumber uint32, payload []byte) []byte {
	return CreatePacket(Header{PayloadType: payloadType, SequenceNumber: sequenceNumber}, payload)
}

// ParseMessage decodes a single datagram received from the camera.
// Unknown type codes are not an error, the message is returned with UNKNOWN_TYPE.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedFrame, len(data))
	}

	r := bitio.NewReader(bytes.NewReader(data))
	fields := make([]uint64, 3)
	for i, width := range []uint8{16, 16, 32} {
		value, err := r.ReadBits(width)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
		}
		fields[i] = value
	}

	header := Header{
		PayloadType:    LookupPayloadType(uint16(fields[0])),
		Length:         uint16(fields[1]),
		SequenceNumber: uint32(fields[2]),
	}

	if len(data) < HeaderLength+int(header.Length) {
		return nil, fmt.Errorf("%w: declared %d payload bytes, got %d", ErrMalformedFrame, header.Length, len(data)-HeaderLength)
	}

	payload := make([]byte, header.Length)
	copy(payload, data[HeaderLength:HeaderLength+int(header.Length)])

	return &Message{
		Header:  header,
		Payload: payload,
		RawType: uint16(fields[0]),
	}, nil
}
