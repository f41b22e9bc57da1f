package sync

import (
	"context"
	"net"
	"time"

	"github.com/odvcencio/hx/pkg/protocol"
)

// DefaultIdleTimeout bounds how long either side waits for the peer's
// next frame before giving up on the session.
const DefaultIdleTimeout = 30 * time.Second

// peerConn wraps a net.Conn with per-read idle deadlines and context
// cancellation. Cancelling the context forces any blocked read or write
// to fail promptly by expiring the connection deadline.
type peerConn struct {
	conn        net.Conn
	idleTimeout time.Duration
	stopCancel  func() bool
}

func newPeerConn(ctx context.Context, conn net.Conn, idleTimeout time.Duration) *peerConn {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	pc := &peerConn{conn: conn, idleTimeout: idleTimeout}
	pc.stopCancel = context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	return pc
}

// close detaches the context watcher. The underlying conn stays open;
// its lifetime belongs to the caller.
func (pc *peerConn) close() {
	pc.stopCancel()
}

func (pc *peerConn) read() (*protocol.Frame, error) {
	pc.conn.SetReadDeadline(time.Now().Add(pc.idleTimeout))
	return protocol.ReadFrame(pc.conn)
}

func (pc *peerConn) write(f *protocol.Frame) error {
	pc.conn.SetWriteDeadline(time.Now().Add(pc.idleTimeout))
	return protocol.WriteFrame(pc.conn, f)
}
