package realtime

import (
	"errors"
	"net"
	"sync"
	"time"
)

// --- Fakes ---

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

type readResult struct {
	messageType int
	data        []byte
	err         error
}

type controlWrite struct {
	messageType int
	data        []byte
}

// fakeConn records writes and serves scripted reads.
type fakeConn struct {
	mu          sync.Mutex
	writes      [][]byte
	controls    []controlWrite
	writeErr    error
	closed      bool
	pongHandler func(string) error

	reads    chan readResult
	closeCh  chan struct{}
	closeOne sync.Once
	written  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:   make(chan readResult, 16),
		closeCh: make(chan struct{}),
		written: make(chan struct{}, 64),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-c.reads:
		return r.messageType, r.data, r.err
	case <-c.closeCh:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("use of closed network connection")
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	select {
	case c.written <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("use of closed network connection")
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.controls = append(c.controls, controlWrite{messageType: messageType, data: data})
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongHandler = h
}

func (c *fakeConn) Close() error {
	c.closeOne.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.closeCh)
	})
	return nil
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) textWrites() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) controlWrites() []controlWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]controlWrite, len(c.controls))
	copy(out, c.controls)
	return out
}
