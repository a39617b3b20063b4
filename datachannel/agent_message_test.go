package datachannel

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentMessageRoundTrip(t *testing.T) {
	msg := NewAgentMessage()
	msg.MessageType = InputStreamData
	msg.SequenceNumber = 7
	msg.Flags = Data
	msg.PayloadType = Output
	msg.Payload = []byte("hello instance")

	data, err := msg.MarshalBinary()
	require.NoError(t, err)

	out := new(AgentMessage)
	require.NoError(t, out.UnmarshalBinary(data))

	assert.Equal(t, InputStreamData, out.MessageType)
	assert.Equal(t, int64(7), out.SequenceNumber)
	assert.Equal(t, Data, out.Flags)
	assert.Equal(t, Output, out.PayloadType)
	assert.Equal(t, msg.Payload, out.Payload)
	assert.Equal(t, msg.MessageID(), out.MessageID())
}

func TestAgentMessageWireLayout(t *testing.T) {
	msg := NewAgentMessage()
	msg.MessageType = Acknowledge
	msg.SequenceNumber = 3
	msg.Flags = Ack
	msg.PayloadType = Undefined
	msg.Payload = []byte(`{}`)

	data, err := msg.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, agentMsgHeaderLen+4+len(msg.Payload))

	assert.EqualValues(t, agentMsgHeaderLen, binary.BigEndian.Uint32(data[0:4]))
	assert.Equal(t, string(Acknowledge), strings.TrimSpace(string(data[4:36])))
	assert.EqualValues(t, 1, binary.BigEndian.Uint32(data[36:40]))
	assert.EqualValues(t, 3, binary.BigEndian.Uint64(data[48:56]))
	assert.EqualValues(t, Ack, binary.BigEndian.Uint64(data[56:64]))
	assert.EqualValues(t, len(msg.Payload), binary.BigEndian.Uint32(data[116:120]))

	digest := sha256.Sum256(msg.Payload)
	assert.Equal(t, digest[:], data[80:80+sha256.Size])
}

func TestAgentMessageValidate(t *testing.T) {
	t.Run("missing type", func(t *testing.T) {
		msg := NewAgentMessage()
		msg.Payload = []byte("x")
		_, err := msg.MarshalBinary()
		assert.ErrorContains(t, err, "invalid message type")
	})

	t.Run("corrupted digest", func(t *testing.T) {
		msg := NewAgentMessage()
		msg.MessageType = OutputStreamData
		msg.Payload = []byte("payload")

		data, err := msg.MarshalBinary()
		require.NoError(t, err)

		// flip a payload byte so the digest no longer matches
		data[len(data)-1] ^= 0xff

		assert.ErrorContains(t, new(AgentMessage).UnmarshalBinary(data), "digest mismatch")
	})

	t.Run("short message", func(t *testing.T) {
		assert.Error(t, new(AgentMessage).UnmarshalBinary(make([]byte, 10)))
	})
}

func TestSwapUUIDHalves(t *testing.T) {
	in := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

	swapped := swapUUIDHalves(in)
	assert.Equal(t, []byte{8, 9, 10, 11, 12, 13, 14, 15, 0, 1, 2, 3, 4, 5, 6, 7}, swapped)

	// involution: swapping twice restores the original
	assert.Equal(t, in, swapUUIDHalves(swapped))
}
