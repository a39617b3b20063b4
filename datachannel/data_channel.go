package datachannel

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// client versions reported to the agent during the handshake.  The agent
	// only offers stream multiplexing to clients reporting 1.1.70 or later.
	clientVersion    = "0.0.1"
	muxClientVersion = "1.2.0"

	// number of unacknowledged outbound messages retained for inspection
	pendingBufferSize = 100

	handshakeTimeout = 15 * time.Second
)

// ErrHandshakeTimeout is returned by WaitHandshake when the agent never
// completes the session handshake.
var ErrHandshakeTimeout = errors.New("timed out waiting for session handshake")

// DataChannel is the specification of the type which manages the websocket
// communication with the SSM messaging service.  The io.Reader side delivers
// the reassembled output stream; callers wanting per-message granularity can
// consume ReaderChannel instead (use one or the other, not both).
type DataChannel interface {
	Open(context.Context, aws.Config, *ssm.StartSessionInput) error
	ReaderChannel() (chan []byte, chan error)
	ProcessHandshakeRequest(*AgentMessage) error
	SetTerminalSize(rows, cols uint32) error
	SendAcknowledgeMessage(*AgentMessage) error
	TerminateSession() error
	DisconnectPort() error
	WaitHandshake() error
	WriteMsg(*AgentMessage) (int, error)
	io.ReadWriteCloser
}

// SsmDataChannel speaks the AgentMessage protocol over the websocket
// connection returned by the SSM StartSession API.  The zero value is
// usable; call Open before any other method.
type SsmDataChannel struct {
	seqNum    int64
	mu        sync.Mutex
	ws        *websocket.Conn
	synSent   bool
	muxing    bool
	sessionID string

	pending MessageBuffer

	dataCh    chan []byte
	errCh     chan error
	readyCh   chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once

	// unread remainder from the last Read
	leftover []byte
}

// EnableMuxing makes the handshake advertise a client version recent enough
// for the agent to select its stream multiplexing plugin.  Must be called
// before Open.
func (c *SsmDataChannel) EnableMuxing() {
	c.muxing = true
}

// SessionID returns the identifier of the session created by Open.
func (c *SsmDataChannel) SessionID() string {
	return c.sessionID
}

// Open calls the SSM StartSession API, dials the returned stream URL and
// sends the channel open request.  The read loop is started before
// returning so that message acknowledgement begins immediately.
func (c *SsmDataChannel) Open(ctx context.Context, cfg aws.Config, in *ssm.StartSessionInput) error {
	out, err := ssm.NewFromConfig(cfg).StartSession(ctx, in)
	if err != nil {
		return err
	}
	c.sessionID = aws.ToString(out.SessionId)

	c.ws, _, err = websocket.DefaultDialer.DialContext(ctx, aws.ToString(out.StreamUrl), http.Header{})
	if err != nil {
		return err
	}

	c.pending = NewMessageBuffer(pendingBufferSize)
	c.dataCh = make(chan []byte, 65535)
	c.errCh = make(chan error, 4)
	c.readyCh = make(chan struct{})

	if err = c.openDataChannel(aws.ToString(out.TokenValue)); err != nil {
		_ = c.Close()
		return err
	}

	go c.startReadLoop()

	return nil
}

// Close shuts down the websocket connection.  Type-specific teardown (like
// sending TerminateSession for port forwarding) must happen before Close.
func (c *SsmDataChannel) Close() error {
	var err error
	if c.ws != nil {
		err = c.ws.Close()
	}
	return err
}

// ReaderChannel returns the channels fed by the read loop.  Output payloads
// arrive on the data channel, processing errors on the error channel.
func (c *SsmDataChannel) ReaderChannel() (chan []byte, chan error) {
	return c.dataCh, c.errCh
}

// WaitHandshake blocks until the agent reports HandshakeComplete, the
// channel fails, or the handshake timeout elapses.
func (c *SsmDataChannel) WaitHandshake() error {
	select {
	case <-c.readyCh:
		return nil
	case err, ok := <-c.errCh:
		if ok {
			return err
		}
		return errors.New("data channel closed during handshake")
	case <-time.After(handshakeTimeout):
		return ErrHandshakeTimeout
	}
}

// Read assembles the agent's output stream payloads into p.
func (c *SsmDataChannel) Read(p []byte) (int, error) {
	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}

	select {
	case data, ok := <-c.dataCh:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, data)
		if n < len(data) {
			c.leftover = data[n:]
		}
		return n, nil
	case err, ok := <-c.errCh:
		if !ok {
			return 0, io.EOF
		}
		return 0, err
	}
}

// Write sends an input stream data message with p as the payload.
func (c *SsmDataChannel) Write(p []byte) (int, error) {
	msg := NewAgentMessage()
	msg.MessageType = InputStreamData
	msg.Flags = Data
	msg.PayloadType = Output
	msg.Payload = p

	return c.WriteMsg(msg)
}

// WriteMsg marshals an AgentMessage and sends it to the messaging service.
// The first stream message of a session is stamped with the Syn flag and
// sequence number 0, as the protocol requires.  Outbound stream messages
// are retained in the pending buffer until acknowledged by the agent.
func (c *SsmDataChannel) WriteMsg(msg *AgentMessage) (int, error) {
	// the lock covers synSent and serializes websocket writes, which the
	// websocket library requires of concurrent writers
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.MessageType == InputStreamData {
		if !c.synSent {
			msg.Flags = Syn
			atomic.StoreInt64(&c.seqNum, 0)
			msg.SequenceNumber = 0
		} else if msg.SequenceNumber == 0 {
			msg.SequenceNumber = atomic.AddInt64(&c.seqNum, 1)
		}
	}

	data, err := msg.MarshalBinary()
	if err != nil {
		return 0, err
	}

	if msg.MessageType == InputStreamData {
		c.retainPending(msg)
	}

	c.synSent = true
	return msg.PayloadLength(), c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// ProcessHandshakeRequest answers the agent's handshake request.  The
// handshake must complete before data is sent over a forwarded connection.
func (c *SsmDataChannel) ProcessHandshakeRequest(msg *AgentMessage) error {
	req := new(HandshakeRequestPayload)
	if err := json.Unmarshal(msg.Payload, req); err != nil {
		return err
	}

	payload, err := json.Marshal(c.buildHandshakeResponse(req.RequestedClientActions))
	if err != nil {
		return err
	}

	out := NewAgentMessage()
	out.MessageType = InputStreamData
	out.SequenceNumber = msg.SequenceNumber
	out.Flags = Data
	out.PayloadType = HandshakeResponse
	out.Payload = payload

	_, err = c.WriteMsg(out)
	return err
}

// SetTerminalSize reports the local terminal dimensions to the agent,
// used by shell sessions.
func (c *SsmDataChannel) SetTerminalSize(rows, cols uint32) error {
	input := map[string]uint32{
		"rows": rows,
		"cols": cols,
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return err
	}

	msg := NewAgentMessage()
	msg.MessageType = InputStreamData
	msg.Flags = Data
	msg.PayloadType = Size
	msg.Payload = payload

	_, err = c.WriteMsg(msg)
	return err
}

// SendAcknowledgeMessage acknowledges a message read from the websocket,
// which the session protocol requires for every inbound message.
func (c *SsmDataChannel) SendAcknowledgeMessage(msg *AgentMessage) error {
	ack := AcknowledgePayload{
		AcknowledgedMessageType:           msg.MessageType,
		AcknowledgedMessageId:             msg.MessageID().String(),
		AcknowledgedMessageSequenceNumber: msg.SequenceNumber,
		IsSequentialMessage:               true,
	}

	payload, err := json.Marshal(&ack)
	if err != nil {
		return err
	}

	agentMsg := NewAgentMessage()
	agentMsg.MessageType = Acknowledge
	agentMsg.SequenceNumber = msg.SequenceNumber
	agentMsg.Flags = Ack
	agentMsg.PayloadType = Undefined
	agentMsg.Payload = payload

	_, err = c.WriteMsg(agentMsg)
	return err
}

// TerminateSession tells the agent the session is ending so it can clean
// up the connections used to communicate with the instance.
func (c *SsmDataChannel) TerminateSession() error {
	return c.sendFlagMessage(Fin, TerminateSession)
}

// DisconnectPort tells the agent that a non-multiplexed stream is shutting
// down.  Unlike TerminateSession, the channel stays usable for a new port
// forwarding stream afterwards.
func (c *SsmDataChannel) DisconnectPort() error {
	return c.sendFlagMessage(Data, DisconnectToPort)
}

func (c *SsmDataChannel) sendFlagMessage(flag AgentMessageFlag, payloadFlag PayloadTypeFlag) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(payloadFlag))

	msg := NewAgentMessage()
	msg.MessageType = InputStreamData
	msg.Flags = flag
	msg.PayloadType = Flag
	msg.Payload = buf

	_, err := c.WriteMsg(msg)
	return err
}

func (c *SsmDataChannel) openDataChannel(token string) error {
	openDataChanInput := map[string]string{
		"MessageSchemaVersion": "1.0",
		"RequestId":            uuid.NewString(),
		"TokenValue":           token,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(openDataChanInput)
}

func (c *SsmDataChannel) retainPending(msg *AgentMessage) {
	if c.pending == nil {
		return
	}

	if err := c.pending.Add(msg); errors.Is(err, ErrBufferFull) {
		if old := c.pending.Oldest(); old != nil {
			c.pending.Remove(old.SequenceNumber)
		}
		_ = c.pending.Add(msg)
	}
}

func (c *SsmDataChannel) handleAcknowledge(msg *AgentMessage) {
	ack := new(AcknowledgePayload)
	if err := json.Unmarshal(msg.Payload, ack); err != nil {
		zap.S().Debugf("unparsable acknowledge payload: %v", err)
		return
	}

	if c.pending != nil {
		c.pending.Remove(ack.AcknowledgedMessageSequenceNumber)
	}
}

func (c *SsmDataChannel) closeDataCh() {
	c.closeOnce.Do(func() {
		close(c.dataCh)
	})
}

func (c *SsmDataChannel) startReadLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			// gorilla docs say read errors are permanent, so bail out
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				zap.S().Debugf("websocket read: %v", err)
				c.errCh <- err
			}
			c.closeDataCh()
			return
		}

		m := new(AgentMessage)
		if err = m.UnmarshalBinary(data); err != nil {
			c.errCh <- err
			continue
		}

		if m.MessageType != Acknowledge {
			if err = c.SendAcknowledgeMessage(m); err != nil {
				c.errCh <- err
				c.closeDataCh()
				return
			}
		}

		switch m.MessageType {
		case Acknowledge:
			c.handleAcknowledge(m)
		case OutputStreamData:
			switch m.PayloadType {
			case Output:
				c.dataCh <- m.Payload
			case HandshakeRequest:
				// handshake failure is fatal for the session
				if err = c.ProcessHandshakeRequest(m); err != nil {
					c.errCh <- err
					c.closeDataCh()
					return
				}
			case HandshakeComplete:
				zap.S().Debug("session handshake complete")
				c.readyOnce.Do(func() { close(c.readyCh) })
			case Flag:
				zap.S().Debugf("agent flag payload: %d", binary.BigEndian.Uint32(m.Payload))
			default:
				zap.S().Debugf("unhandled payload type %d in message %s", m.PayloadType, m)
			}
		case ChannelClosed:
			payload := new(ChannelClosedPayload)
			_ = json.Unmarshal(m.Payload, payload)

			if len(payload.Output) > 0 {
				c.dataCh <- []byte(payload.Output)
			}
			c.closeDataCh()
			return
		case PausePublication, StartPublication, AgentSession:
			// flow control hints, nothing for us to do
		default:
			c.errCh <- fmt.Errorf("unknown message type: %s", m)
		}
	}
}

// the only hard requirement of the handshake response is an entry in
// ProcessedClientActions for each RequestedClientAction, with ActionStatus
// Success.  Any non-success is treated as a failure by the agent.
func (c *SsmDataChannel) buildHandshakeResponse(actions []RequestedClientAction) *HandshakeResponsePayload {
	version := clientVersion
	if c.muxing {
		version = muxClientVersion
	}

	res := HandshakeResponsePayload{
		ClientVersion:          version,
		ProcessedClientActions: make([]ProcessedClientAction, len(actions)),
	}

	for i, a := range actions {
		action := ProcessedClientAction{ActionType: a.ActionType}

		switch a.ActionType {
		case SessionType:
			action.ActionStatus = Success
		default:
			action.ActionStatus = Unsupported
			action.Error = fmt.Sprintf("unsupported action type %s", a.ActionType)
		}

		res.ProcessedClientActions[i] = action
	}

	return &res
}
