package datachannel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHandshakeResponse(t *testing.T) {
	actions := []RequestedClientAction{
		{ActionType: SessionType},
		{ActionType: KMSEncryption},
	}

	c := new(SsmDataChannel)
	res := c.buildHandshakeResponse(actions)

	require.Len(t, res.ProcessedClientActions, 2)
	assert.Equal(t, clientVersion, res.ClientVersion)

	assert.Equal(t, SessionType, res.ProcessedClientActions[0].ActionType)
	assert.Equal(t, Success, res.ProcessedClientActions[0].ActionStatus)

	// encrypted sessions are not supported, the agent must be told so
	assert.Equal(t, KMSEncryption, res.ProcessedClientActions[1].ActionType)
	assert.Equal(t, Unsupported, res.ProcessedClientActions[1].ActionStatus)
	assert.NotEmpty(t, res.ProcessedClientActions[1].Error)
}

func TestBuildHandshakeResponseMuxing(t *testing.T) {
	c := new(SsmDataChannel)
	c.EnableMuxing()

	res := c.buildHandshakeResponse([]RequestedClientAction{{ActionType: SessionType}})
	assert.Equal(t, muxClientVersion, res.ClientVersion)
}

func TestHandleAcknowledge(t *testing.T) {
	c := &SsmDataChannel{pending: NewMessageBuffer(pendingBufferSize)}

	sent := streamMsg(5)
	require.NoError(t, c.pending.Add(sent))

	payload, err := json.Marshal(&AcknowledgePayload{
		AcknowledgedMessageType:           InputStreamData,
		AcknowledgedMessageId:             sent.MessageID().String(),
		AcknowledgedMessageSequenceNumber: 5,
		IsSequentialMessage:               true,
	})
	require.NoError(t, err)

	ack := NewAgentMessage()
	ack.MessageType = Acknowledge
	ack.Payload = payload

	c.handleAcknowledge(ack)
	assert.Zero(t, c.pending.Len())
}

// exercises WriteMsg from several goroutines, the way the stdin pump and
// the read loop's acknowledges interleave in a live session; run with the
// race detector to catch unsynchronized access to the session state
func TestWriteMsgConcurrent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err = conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	c := &SsmDataChannel{ws: ws, pending: NewMessageBuffer(pendingBufferSize)}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				msg := NewAgentMessage()
				msg.MessageType = InputStreamData
				msg.Flags = Data
				msg.PayloadType = Output
				msg.Payload = []byte("ping")

				if _, err := c.WriteMsg(msg); err != nil {
					t.Errorf("WriteMsg: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.True(t, c.synSent)
}

func TestRetainPendingEvictsOldest(t *testing.T) {
	c := &SsmDataChannel{pending: NewMessageBuffer(2)}

	c.retainPending(streamMsg(1))
	c.retainPending(streamMsg(2))
	c.retainPending(streamMsg(3))

	assert.Equal(t, 2, c.pending.Len())
	assert.Equal(t, int64(2), c.pending.Oldest().SequenceNumber)
	assert.NotNil(t, c.pending.Get(3))
}
