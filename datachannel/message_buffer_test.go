package datachannel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamMsg(seq int64) *AgentMessage {
	msg := NewAgentMessage()
	msg.MessageType = InputStreamData
	msg.SequenceNumber = seq
	return msg
}

func TestMessageBuffer(t *testing.T) {
	buf := NewMessageBuffer(3)

	for i := int64(0); i < 3; i++ {
		require.NoError(t, buf.Add(streamMsg(i)))
	}
	assert.Equal(t, 3, buf.Len())

	assert.ErrorIs(t, buf.Add(streamMsg(3)), ErrBufferFull)

	assert.Equal(t, int64(1), buf.Get(1).SequenceNumber)
	assert.Nil(t, buf.Get(99))

	assert.Equal(t, int64(0), buf.Oldest().SequenceNumber)

	buf.Remove(0)
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, int64(1), buf.Oldest().SequenceNumber)

	// removing an unknown sequence number is a no-op
	buf.Remove(42)
	assert.Equal(t, 2, buf.Len())

	buf.Remove(1)
	buf.Remove(2)
	assert.Zero(t, buf.Len())
	assert.Nil(t, buf.Oldest())
}
