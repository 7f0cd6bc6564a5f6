package testutil

import (
	"errors"
	"sync"
	"time"
)

// ErrBrokenConn is returned by a broken MockConn.
var ErrBrokenConn = errors.New("mock connection broken")

// MockConn is an in-memory realtime connection that records written messages.
type MockConn struct {
	mu       sync.Mutex
	messages [][]byte
	broken   bool
	block    chan struct{}
	closed   bool
}

// NewMockConn creates a healthy connection.
func NewMockConn() *MockConn {
	return &MockConn{}
}

// NewBrokenConn creates a connection whose writes always fail.
func NewBrokenConn() *MockConn {
	return &MockConn{broken: true}
}

// NewBlockingConn creates a connection whose writes hang until Close.
func NewBlockingConn() *MockConn {
	return &MockConn{block: make(chan struct{})}
}

// WriteMessage records data unless the connection is broken or closed.
func (c *MockConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()

	if block != nil {
		<-block
		return ErrBrokenConn
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken || c.closed {
		return ErrBrokenConn
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	c.messages = append(c.messages, msg)
	return nil
}

// WriteControl behaves like WriteMessage but records nothing.
func (c *MockConn) WriteControl(_ int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken || c.closed {
		return ErrBrokenConn
	}
	return nil
}

// Close marks the connection closed and releases blocked writers.
func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		if c.block != nil {
			close(c.block)
		}
	}
	return nil
}

// Messages returns a copy of the recorded messages.
func (c *MockConn) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.messages))
	copy(out, c.messages)
	return out
}

// IsClosed reports whether Close was called.
func (c *MockConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
