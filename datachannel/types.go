package datachannel

import (
	"encoding/json"
	"time"
)

// MessageType is the label used in the AgentMessage.MessageType field.
// REF: https://github.com/aws/amazon-ssm-agent/blob/master/agent/session/contracts/model.go.
type MessageType string

const (
	InteractiveShell MessageType = "interactive_shell"
	TaskReply        MessageType = "agent_task_reply"
	TaskComplete     MessageType = "agent_task_complete"
	Acknowledge      MessageType = "acknowledge"
	AgentSession     MessageType = "agent_session_state"
	ChannelClosed    MessageType = "channel_closed"
	OutputStreamData MessageType = "output_stream_data"
	InputStreamData  MessageType = "input_stream_data"
	PausePublication MessageType = "pause_publication"
	StartPublication MessageType = "start_publication"
)

// AgentMessageFlag indicates where in the stream a message belongs.
type AgentMessageFlag uint64

const (
	Data AgentMessageFlag = iota
	Syn
	Fin
	Ack
)

// PayloadType indicates the data format of the AgentMessage.Payload field.
type PayloadType uint32

const (
	Undefined PayloadType = iota
	Output
	Error
	Size
	Parameter
	HandshakeRequest
	HandshakeResponse
	HandshakeComplete
	EncChallengeRequest
	EncChallengeResponse
	Flag
)

// PayloadTypeFlag is the value carried in the payload of Flag messages to
// signal control operations to the agent.
type PayloadTypeFlag uint32

const (
	DisconnectToPort   PayloadTypeFlag = 1
	TerminateSession   PayloadTypeFlag = 2
	ConnectToPortError PayloadTypeFlag = 3
)

// ActionType is the kind of action the agent requests during the handshake.
type ActionType string

const (
	KMSEncryption ActionType = "KMSEncryption"
	SessionType   ActionType = "SessionType"
)

// ActionStatus communicates the result of processing an ActionType.
type ActionStatus int

const (
	Success     ActionStatus = 1
	Failed      ActionStatus = 2
	Unsupported ActionStatus = 3
)

// HandshakeRequestPayload is sent by the agent to initiate the session handshake.
type HandshakeRequestPayload struct {
	AgentVersion           string
	RequestedClientActions []RequestedClientAction
}

// RequestedClientAction is a single action offered in the handshake request.
type RequestedClientAction struct {
	ActionType       ActionType
	ActionParameters interface{}
}

// SessionTypeRequest is the parameter block of a SessionType client action.
type SessionTypeRequest struct {
	SessionType string
	Properties  interface{}
}

// HandshakeResponsePayload is the client's answer to a handshake request.
// ProcessedClientActions must contain one entry per requested action.
type HandshakeResponsePayload struct {
	ClientVersion          string
	ProcessedClientActions []ProcessedClientAction
	Errors                 []string
}

// ProcessedClientAction reports the outcome of one requested client action.
type ProcessedClientAction struct {
	ActionType   ActionType
	ActionStatus ActionStatus
	ActionResult json.RawMessage
	Error        string
}

// HandshakeCompletePayload is returned by the agent once the handshake
// negotiation succeeds.
type HandshakeCompletePayload struct {
	HandshakeTimeToComplete time.Duration
	CustomerMessage         string
}

// AcknowledgePayload is the body of an Acknowledge message, in both directions.
type AcknowledgePayload struct {
	AcknowledgedMessageType           MessageType
	AcknowledgedMessageId             string //nolint:stylecheck // field name fixed by the wire format
	AcknowledgedMessageSequenceNumber int64
	IsSequentialMessage               bool
}

// ChannelClosedPayload is the body of a ChannelClosed message from the agent.
type ChannelClosedPayload struct {
	MessageType   string
	MessageID     string
	DestinationID string
	SessionID     string
	SchemaVersion int
	CreatedDate   string
	Output        string
}
