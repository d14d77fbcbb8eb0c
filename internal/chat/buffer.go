package chat

import (
	"sync"

	"github.com/fiora/chat-app/internal/model"
)

// MessageBuffer stores the last N messages per room in memory. It is
// goroutine-safe and uses a ring buffer internally.
type MessageBuffer struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string]*ringBuffer // room -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of messages.
type ringBuffer struct {
	items []*model.Message
	pos   int
	count int
}

// NewMessageBuffer creates an empty MessageBuffer keeping capacity
// messages per room.
func NewMessageBuffer(capacity int) *MessageBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &MessageBuffer{
		capacity: capacity,
		buffers:  make(map[string]*ringBuffer),
	}
}

// Add appends a message to the room's ring buffer. If the buffer is full,
// the oldest message is overwritten.
func (mb *MessageBuffer) Add(room string, msg *model.Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.addLocked(room, msg)
}

func (mb *MessageBuffer) addLocked(room string, msg *model.Message) {
	rb, ok := mb.buffers[room]
	if !ok {
		rb = &ringBuffer{items: make([]*model.Message, mb.capacity)}
		mb.buffers[room] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % mb.capacity
	if rb.count < mb.capacity {
		rb.count++
	}
}

// Fill replaces the room's buffer with msgs, given oldest first.
func (mb *MessageBuffer) Fill(room string, msgs []*model.Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.buffers, room)
	for _, m := range msgs {
		mb.addLocked(room, m)
	}
	if _, ok := mb.buffers[room]; !ok {
		mb.buffers[room] = &ringBuffer{items: make([]*model.Message, mb.capacity)}
	}
}

// Get returns up to limit of the newest messages for a room in
// chronological order. ok is false if the room was never buffered.
func (mb *MessageBuffer) Get(room string, limit int) ([]*model.Message, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	rb, ok := mb.buffers[room]
	if !ok {
		return nil, false
	}

	n := rb.count
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]*model.Message, n)
	// The oldest returned message sits n slots behind pos.
	start := (rb.pos - n + mb.capacity) % mb.capacity
	for i := 0; i < n; i++ {
		result[i] = rb.items[(start+i)%mb.capacity]
	}
	return result, true
}

// Drop removes one message from a room's buffer.
func (mb *MessageBuffer) Drop(room, messageID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rb, ok := mb.buffers[room]
	if !ok {
		return
	}
	start := (rb.pos - rb.count + mb.capacity) % mb.capacity
	kept := make([]*model.Message, 0, rb.count)
	for i := 0; i < rb.count; i++ {
		m := rb.items[(start+i)%mb.capacity]
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	rb.items = make([]*model.Message, mb.capacity)
	rb.pos, rb.count = 0, 0
	for _, m := range kept {
		mb.addLocked(room, m)
	}
}

// Replace swaps the buffered copy of msg, matched by id, for msg.
// Buffered messages are never mutated in place.
func (mb *MessageBuffer) Replace(room string, msg *model.Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rb, ok := mb.buffers[room]
	if !ok {
		return
	}
	for i, m := range rb.items {
		if m != nil && m.ID == msg.ID {
			rb.items[i] = msg
			return
		}
	}
}

// Remove deletes the buffer for a room.
func (mb *MessageBuffer) Remove(room string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	delete(mb.buffers, room)
}
