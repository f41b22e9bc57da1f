package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/odvcencio/hx/pkg/object"
	"github.com/odvcencio/hx/pkg/protocol"
	"github.com/odvcencio/hx/pkg/repo"
)

// Client drives push and pull sessions against a remote peer.
type Client struct {
	Repo        *repo.Repo
	Logger      *slog.Logger  // optional; nil discards
	IdleTimeout time.Duration // per-frame read/write deadline; 0 means DefaultIdleTimeout
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// PushResult reports what a push transferred.
type PushResult struct {
	Ref         string
	UpToDate    bool
	ObjectsSent int
	NewTip      object.Hash
}

// PullResult reports what a pull transferred.
type PullResult struct {
	Ref             string
	UpToDate        bool
	ObjectsReceived int
	OldTip          object.Hash
	NewTip          object.Hash
}

// Push uploads the local ref's history to the peer and asks it to move
// the ref. Transfers only the objects the peer's HAVE advertisement did
// not cover. Without force the server refuses non-fast-forward moves.
func (c *Client) Push(ctx context.Context, conn net.Conn, ref string, force bool) (*PushResult, error) {
	m := &machine{}
	pc := newPeerConn(ctx, conn, c.IdleTimeout)
	defer pc.close()
	// The conn carries exactly one session; expire it on exit so a
	// blocked reader goroutine never outlives the call.
	defer conn.SetDeadline(time.Now())

	log := c.logger().With("op", "push", "ref", ref)

	localTip, err := c.Repo.ResolveRef(ref)
	if err != nil {
		return nil, m.fail(fmt.Errorf("resolve %q: %w", ref, err))
	}
	if localTip == "" {
		return nil, m.fail(fmt.Errorf("ref %q has no commits to push", ref))
	}

	if err := m.to(StateNegotiating); err != nil {
		return nil, err
	}
	want, err := protocol.EncodeWant(&protocol.WantPayload{Op: protocol.OpPush, Ref: ref})
	if err != nil {
		return nil, m.fail(err)
	}
	if err := pc.write(want); err != nil {
		return nil, m.fail(err)
	}

	f, err := pc.read()
	if err != nil {
		return nil, m.fail(err)
	}
	if f.Type == protocol.FrameError {
		return nil, m.fail(remoteError(f))
	}
	have, err := protocol.DecodeHave(f)
	if err != nil {
		return nil, m.fail(err)
	}

	if have.Tip == localTip {
		if err := m.to(StateFinalizing); err != nil {
			return nil, err
		}
		if err := pc.write(protocol.EncodeDone()); err != nil {
			return nil, m.fail(err)
		}
		if err := m.to(StateComplete); err != nil {
			return nil, err
		}
		log.Debug("already up to date", "tip", localTip)
		return &PushResult{Ref: ref, UpToDate: true, NewTip: localTip}, nil
	}

	stop := make([]object.Hash, 0, len(have.Known)+1)
	stop = append(stop, have.Known...)
	if have.Tip != "" {
		stop = append(stop, have.Tip)
	}
	records, err := c.Repo.Store.CollectDelta([]object.Hash{localTip}, stop)
	if err != nil {
		return nil, m.fail(err)
	}

	if err := m.to(StateTransferring); err != nil {
		return nil, err
	}

	// The server acknowledges in batches while we stream, so a reader
	// has to drain the other direction concurrently or both sides
	// would block writing.
	type terminal struct {
		frame *protocol.Frame
		err   error
	}
	replyCh := make(chan terminal, 1)
	go func() {
		for {
			rf, rerr := pc.read()
			if rerr != nil {
				replyCh <- terminal{err: rerr}
				return
			}
			switch rf.Type {
			case protocol.FrameAck:
				// Progress only; the session outcome arrives as DONE
				// or ERROR.
			case protocol.FrameDone, protocol.FrameError:
				replyCh <- terminal{frame: rf}
				return
			default:
				replyCh <- terminal{err: fmt.Errorf("%w: unexpected %s during push", protocol.ErrMalformedFrame, rf.Type)}
				return
			}
		}
	}()

	for _, rec := range records {
		of, err := protocol.EncodeObject(&protocol.ObjectPayload{
			Type: rec.Type,
			Hash: rec.Hash,
			Data: rec.Data,
		})
		if err != nil {
			return nil, m.fail(err)
		}
		if err := pc.write(of); err != nil {
			return nil, m.fail(err)
		}
	}
	log.Debug("objects streamed", "count", len(records))

	if err := m.to(StateFinalizing); err != nil {
		return nil, err
	}
	ru, err := protocol.EncodeRefUpdate(&protocol.RefUpdatePayload{
		Ref:     ref,
		OldHash: have.Tip,
		NewHash: localTip,
		Force:   force,
	})
	if err != nil {
		return nil, m.fail(err)
	}
	if err := pc.write(ru); err != nil {
		return nil, m.fail(err)
	}

	reply := <-replyCh
	if reply.err != nil {
		return nil, m.fail(reply.err)
	}
	if reply.frame.Type == protocol.FrameError {
		return nil, m.fail(remoteError(reply.frame))
	}

	if err := m.to(StateComplete); err != nil {
		return nil, err
	}
	log.Info("push complete", "objects", len(records), "tip", localTip)
	return &PushResult{Ref: ref, ObjectsSent: len(records), NewTip: localTip}, nil
}

// Pull downloads the peer's history for ref and fast-forwards the local
// ref to the peer's tip. The working tree and index are not touched.
func (c *Client) Pull(ctx context.Context, conn net.Conn, ref string) (*PullResult, error) {
	m := &machine{}
	pc := newPeerConn(ctx, conn, c.IdleTimeout)
	defer pc.close()
	// Unlike Push, pull never starts a reader goroutine: the exchange
	// strictly alternates, so there is nothing to reap on exit.

	log := c.logger().With("op", "pull", "ref", ref)

	// An absent local ref just means everything the server has is new.
	localTip, err := c.Repo.ResolveRef(ref)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, m.fail(fmt.Errorf("resolve %q: %w", ref, err))
		}
		localTip = ""
	}

	if err := m.to(StateNegotiating); err != nil {
		return nil, err
	}
	want, err := protocol.EncodeWant(&protocol.WantPayload{Op: protocol.OpPull, Ref: ref})
	if err != nil {
		return nil, m.fail(err)
	}
	if err := pc.write(want); err != nil {
		return nil, m.fail(err)
	}

	known, err := lineageCommits(c.Repo, localTip, lineageLimit)
	if err != nil {
		return nil, m.fail(err)
	}
	have, err := protocol.EncodeHave(&protocol.HavePayload{Tip: localTip, Known: known})
	if err != nil {
		return nil, m.fail(err)
	}
	if err := pc.write(have); err != nil {
		return nil, m.fail(err)
	}

	if err := m.to(StateTransferring); err != nil {
		return nil, err
	}

	received := 0
	for {
		f, err := pc.read()
		if err != nil {
			return nil, m.fail(err)
		}

		switch f.Type {
		case protocol.FrameObject:
			op, err := protocol.DecodeObject(f)
			if err != nil {
				return nil, m.fail(err)
			}
			if _, err := c.Repo.Store.WriteVerified(object.ObjectRecord{
				Hash: op.Hash,
				Type: op.Type,
				Data: op.Data,
			}); err != nil {
				return nil, m.fail(fmt.Errorf("store object %s: %w", op.Hash, err))
			}
			received++

		case protocol.FrameRefUpdate:
			ru, err := protocol.DecodeRefUpdate(f)
			if err != nil {
				return nil, m.fail(err)
			}
			if ru.Ref != ref {
				return nil, m.fail(fmt.Errorf("%w: ref update for %q, expected %q", protocol.ErrMalformedFrame, ru.Ref, ref))
			}

			if err := m.to(StateFinalizing); err != nil {
				return nil, err
			}
			result, err := c.applyPulledTip(ref, localTip, ru.NewHash, received)
			if err != nil {
				return nil, m.fail(err)
			}

			if err := pc.write(protocol.EncodeAck(&protocol.AckPayload{Received: uint32(received)})); err != nil {
				return nil, m.fail(err)
			}
			// Session closes with the server's DONE.
			df, err := pc.read()
			if err != nil {
				return nil, m.fail(err)
			}
			if df.Type != protocol.FrameDone {
				return nil, m.fail(fmt.Errorf("%w: expected DONE, got %s", protocol.ErrMalformedFrame, df.Type))
			}
			if err := m.to(StateComplete); err != nil {
				return nil, err
			}
			log.Info("pull complete", "objects", received, "tip", result.NewTip)
			return result, nil

		case protocol.FrameError:
			return nil, m.fail(remoteError(f))

		default:
			return nil, m.fail(fmt.Errorf("%w: unexpected %s during pull", protocol.ErrMalformedFrame, f.Type))
		}
	}
}

// applyPulledTip fast-forwards the local ref to the server tip after the
// transferred objects are durable.
func (c *Client) applyPulledTip(ref string, localTip, serverTip object.Hash, received int) (*PullResult, error) {
	result := &PullResult{
		Ref:             ref,
		ObjectsReceived: received,
		OldTip:          localTip,
		NewTip:          serverTip,
	}
	if serverTip == localTip {
		result.UpToDate = true
		return result, nil
	}

	ff, err := c.Repo.IsAncestor(localTip, serverTip)
	if err != nil {
		return nil, err
	}
	if !ff {
		return nil, fmt.Errorf("ref %q: %w", ref, ErrNonFastForward)
	}
	if err := c.Repo.UpdateRefCAS(ref, serverTip, localTip); err != nil {
		return nil, err
	}
	return result, nil
}

func remoteError(f *protocol.Frame) error {
	ep, err := protocol.DecodeError(f)
	if err != nil {
		return err
	}
	return &RemoteError{Code: ep.Code, Message: ep.Message}
}
