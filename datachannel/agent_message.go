package datachannel

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// the binary size of all AgentMessage fields except payloadLength and Payload
	agentMsgHeaderLen = 116
	// wire size of the MessageType field, space padded
	msgTypeLen = 32
)

// AgentMessage is a single frame of the SSM session protocol, in wire field order.
// REF: https://github.com/aws/amazon-ssm-agent/blob/master/agent/session/contracts/agentmessage.go
type AgentMessage struct {
	headerLength   uint32
	MessageType    MessageType
	schemaVersion  uint32
	createdDate    time.Time // wire format is milliseconds since unix epoch (uint64)
	SequenceNumber int64
	Flags          AgentMessageFlag
	messageID      uuid.UUID // 16 bytes on the wire, halves swapped
	payloadDigest  []byte    // SHA-256 of Payload, calculated in MarshalBinary
	PayloadType    PayloadType
	payloadLength  uint32
	Payload        []byte
}

// NewAgentMessage returns an AgentMessage with the fixed header fields,
// creation time and message ID populated.
func NewAgentMessage() *AgentMessage {
	return &AgentMessage{
		headerLength:  agentMsgHeaderLen,
		schemaVersion: 1,
		createdDate:   time.Now(),
		messageID:     uuid.New(),
	}
}

// MessageID returns the unique identifier assigned to this message.
func (m *AgentMessage) MessageID() uuid.UUID {
	return m.messageID
}

// PayloadLength returns the size of the message payload, as recorded in the header.
func (m *AgentMessage) PayloadLength() int {
	return int(m.payloadLength)
}

// ValidateMessage checks the header invariants shared by inbound and
// outbound messages.
func (m *AgentMessage) ValidateMessage() error {
	if m.headerLength != agentMsgHeaderLen {
		return errors.New("invalid message header length")
	}

	if m.schemaVersion < 1 {
		return errors.New("invalid schema version")
	}

	// shortest type name observed in the SSM agent source
	if len(m.MessageType) < 10 {
		return errors.New("invalid message type")
	}

	if m.createdDate.IsZero() {
		return errors.New("invalid message date")
	}

	if len(m.Payload) != int(m.payloadLength) {
		return fmt.Errorf("payload length mismatch, want: %d, got: %d", m.payloadLength, len(m.Payload))
	}

	digest := sha256.Sum256(m.Payload)
	if !bytes.Equal(digest[:], m.payloadDigest) {
		return errors.New("payload digest mismatch")
	}

	return nil
}

// UnmarshalBinary decodes a frame received from the web socket and
// validates the result.
func (m *AgentMessage) UnmarshalBinary(data []byte) error {
	if len(data) < agentMsgHeaderLen+4 {
		return errors.New("short message")
	}

	m.headerLength = binary.BigEndian.Uint32(data)
	m.MessageType = MessageType(strings.TrimSpace(string(data[4:36])))
	m.schemaVersion = binary.BigEndian.Uint32(data[36:40])
	m.createdDate = parseWireTime(data[40:48])
	m.SequenceNumber = int64(binary.BigEndian.Uint64(data[48:56]))
	m.Flags = AgentMessageFlag(binary.BigEndian.Uint64(data[56:64]))

	id, err := uuid.FromBytes(swapUUIDHalves(data[64:80]))
	if err != nil {
		return err
	}
	m.messageID = id

	m.payloadDigest = data[80 : 80+sha256.Size]
	m.PayloadType = PayloadType(binary.BigEndian.Uint32(data[112:116]))
	m.payloadLength = binary.BigEndian.Uint32(data[116:120])

	if len(data) < int(120+m.payloadLength) {
		return errors.New("truncated payload")
	}
	m.Payload = data[120 : 120+m.payloadLength]

	return m.ValidateMessage()
}

// MarshalBinary encodes the message for transmission, calculating the
// payload length and digest fields.
func (m *AgentMessage) MarshalBinary() ([]byte, error) {
	m.sha256PayloadDigest()
	m.payloadLength = uint32(len(m.Payload))

	if err := m.ValidateMessage(); err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	fields := []interface{}{
		m.headerLength,
		m.paddedMessageType(),
		m.schemaVersion,
		m.createdDate.UnixMilli(),
		m.SequenceNumber,
		m.Flags,
		swapUUIDHalves(m.messageID[:]),
		m.payloadDigest[:sha256.Size],
		m.PayloadType,
		m.payloadLength,
		m.Payload,
	}

	for _, f := range fields {
		if err := binary.Write(buf, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (m *AgentMessage) String() string {
	return fmt.Sprintf("AgentMessage{TYPE: %s, SCHEMA VERSION: %d, SEQUENCE: %d, MESSAGE ID: %s, PAYLOAD TYPE: %d, PAYLOAD LENGTH: %d}",
		m.MessageType, m.schemaVersion, m.SequenceNumber, m.messageID, m.PayloadType, m.payloadLength)
}

func (m *AgentMessage) paddedMessageType() []byte {
	t := []byte(m.MessageType)
	if len(t) < msgTypeLen {
		t = append(t, bytes.Repeat([]byte{0x20}, msgTypeLen-len(t))...)
	}
	return t[:msgTypeLen]
}

func (m *AgentMessage) sha256PayloadDigest() []byte {
	digest := sha256.Sum256(m.Payload)
	m.payloadDigest = digest[:]
	return m.payloadDigest
}

func parseWireTime(data []byte) time.Time {
	ms := binary.BigEndian.Uint64(data)
	return time.UnixMilli(int64(ms))
}

// the agent transmits the two 8-byte halves of the UUID in reverse order
func swapUUIDHalves(data []byte) []byte {
	out := make([]byte, 0, 16)
	out = append(out, data[8:16]...)
	return append(out, data[:8]...)
}
