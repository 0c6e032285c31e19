package stratum

import (
	"bytes"
	"net"
	"time"
)

// fakeConn is a minimal net.Conn double that captures everything written to
// it in an in-memory buffer, so tests can inspect outgoing frames without a
// real socket.
type fakeConn struct {
	bytes.Buffer
	closed bool
}

func (f *fakeConn) Close() error                       { f.closed = true; return nil }
func (f *fakeConn) LocalAddr() net.Addr                { return dummyAddr{} }
func (f *fakeConn) RemoteAddr() net.Addr               { return dummyAddr{} }
func (f *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

type dummyAddr struct{}

func (dummyAddr) Network() string { return "tcp" }
func (dummyAddr) String() string  { return "127.0.0.1:1234" }

func newTestClient() (*Client, *fakeConn) {
	fc := &fakeConn{}
	c := newClient(fc)
	return c, fc
}
