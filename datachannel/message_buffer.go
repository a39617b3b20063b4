package datachannel

import (
	"container/list"
	"errors"
	"sync"
)

// ErrBufferFull is returned by Add when the buffer is at capacity.
var ErrBufferFull = errors.New("buffer full")

// MessageBuffer retains outbound stream messages until the agent
// acknowledges them, keyed by sequence number.
type MessageBuffer interface {
	Len() int
	Add(msg *AgentMessage) error
	Remove(seqNum int64)
	Get(seqNum int64) *AgentMessage
	Oldest() *AgentMessage
}

type messageBuffer struct {
	mu     sync.RWMutex
	size   int
	buf    *list.List
	seqMap map[int64]*list.Element
}

// NewMessageBuffer creates a MessageBuffer holding at most size messages.
func NewMessageBuffer(size int) MessageBuffer {
	return &messageBuffer{
		size:   size,
		buf:    list.New(),
		seqMap: make(map[int64]*list.Element),
	}
}

func (m *messageBuffer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buf.Len()
}

func (m *messageBuffer) Add(msg *AgentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buf.Len() >= m.size {
		return ErrBufferFull
	}

	m.seqMap[msg.SequenceNumber] = m.buf.PushBack(msg)
	return nil
}

func (m *messageBuffer) Remove(seqNum int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.seqMap[seqNum]; ok {
		if el != nil {
			m.buf.Remove(el)
		}
		delete(m.seqMap, seqNum)
	}
}

func (m *messageBuffer) Get(seqNum int64) *AgentMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if el, ok := m.seqMap[seqNum]; ok && el != nil {
		return el.Value.(*AgentMessage)
	}
	return nil
}

// Oldest returns the longest-unacknowledged message, or nil if the buffer
// is empty.
func (m *messageBuffer) Oldest() *AgentMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if el := m.buf.Front(); el != nil {
		return el.Value.(*AgentMessage)
	}
	return nil
}
