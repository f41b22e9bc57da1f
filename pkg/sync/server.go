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

const (
	// ackBatchSize is how many received objects a server batches into one
	// progress ACK. Acks never gate the sender; they only bound how much
	// unacknowledged data is in flight.
	ackBatchSize = 32

	// lineageLimit caps the commit ids advertised in a HAVE frame. Deeper
	// history just means a slightly larger delta, never a wrong one.
	lineageLimit = 256
)

// Session serves one sync connection on the server side. Sessions are
// independent; concurrent ref updates are serialized only by the per-ref
// compare-and-swap.
type Session struct {
	Repo        *repo.Repo
	Logger      *slog.Logger  // optional; nil discards
	IdleTimeout time.Duration // per-frame read/write deadline; 0 means DefaultIdleTimeout
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Serve runs one session to completion: reads the WANT opener and
// dispatches to the push or pull flow.
func (s *Session) Serve(ctx context.Context, conn net.Conn) error {
	m := &machine{}
	pc := newPeerConn(ctx, conn, s.IdleTimeout)
	defer pc.close()

	f, err := pc.read()
	if err != nil {
		return m.fail(fmt.Errorf("read opener: %w", err))
	}
	want, err := protocol.DecodeWant(f)
	if err != nil {
		s.sendError(pc, protocol.CodeProtocol, err.Error())
		return m.fail(err)
	}

	if err := m.to(StateNegotiating); err != nil {
		return err
	}

	switch want.Op {
	case protocol.OpPush:
		return s.servePush(m, pc, want.Ref)
	case protocol.OpPull:
		return s.servePull(m, pc, want.Ref)
	default:
		err := fmt.Errorf("unknown sync op %d", want.Op)
		s.sendError(pc, protocol.CodeProtocol, err.Error())
		return m.fail(err)
	}
}

func (s *Session) servePush(m *machine, pc *peerConn, ref string) error {
	log := s.logger().With("op", "push", "ref", ref)

	tip, err := s.resolveTip(ref)
	if err != nil {
		s.sendError(pc, protocol.CodeStorage, err.Error())
		return m.fail(err)
	}
	known, err := lineageCommits(s.Repo, tip, lineageLimit)
	if err != nil {
		s.sendError(pc, protocol.CodeStorage, err.Error())
		return m.fail(err)
	}
	have, err := protocol.EncodeHave(&protocol.HavePayload{Tip: tip, Known: known})
	if err != nil {
		return m.fail(err)
	}
	if err := pc.write(have); err != nil {
		return m.fail(err)
	}

	if err := m.to(StateTransferring); err != nil {
		return err
	}

	received := uint32(0)
	for {
		f, err := pc.read()
		if err != nil {
			return m.fail(err)
		}

		switch f.Type {
		case protocol.FrameObject:
			op, err := protocol.DecodeObject(f)
			if err != nil {
				s.sendError(pc, protocol.CodeProtocol, err.Error())
				return m.fail(err)
			}
			if _, err := s.Repo.Store.WriteVerified(object.ObjectRecord{
				Hash: op.Hash,
				Type: op.Type,
				Data: op.Data,
			}); err != nil {
				s.sendError(pc, protocol.CodeStorage, err.Error())
				return m.fail(fmt.Errorf("store object %s: %w", op.Hash, err))
			}
			received++
			if received%ackBatchSize == 0 {
				if err := pc.write(protocol.EncodeAck(&protocol.AckPayload{Received: received})); err != nil {
					return m.fail(err)
				}
			}

		case protocol.FrameRefUpdate:
			ru, err := protocol.DecodeRefUpdate(f)
			if err != nil {
				s.sendError(pc, protocol.CodeProtocol, err.Error())
				return m.fail(err)
			}
			if err := m.to(StateFinalizing); err != nil {
				return err
			}
			if err := s.finalizePush(pc, ref, ru); err != nil {
				return m.fail(err)
			}
			if err := pc.write(protocol.EncodeAck(&protocol.AckPayload{Received: received})); err != nil {
				return m.fail(err)
			}
			if err := pc.write(protocol.EncodeDone()); err != nil {
				return m.fail(err)
			}
			if err := m.to(StateComplete); err != nil {
				return err
			}
			log.Info("push accepted", "objects", received, "tip", ru.NewHash)
			return nil

		case protocol.FrameDone:
			// Client ended without a ref update (already up to date).
			if err := m.to(StateFinalizing); err != nil {
				return err
			}
			if err := m.to(StateComplete); err != nil {
				return err
			}
			log.Debug("push session closed without update", "objects", received)
			return nil

		case protocol.FrameError:
			return m.fail(remoteError(f))

		default:
			err := fmt.Errorf("%w: unexpected %s during push", protocol.ErrMalformedFrame, f.Type)
			s.sendError(pc, protocol.CodeProtocol, err.Error())
			return m.fail(err)
		}
	}
}

// finalizePush applies the fast-forward policy and the ref CAS. Every
// refusal is reported to the client before the session dies.
func (s *Session) finalizePush(pc *peerConn, ref string, ru *protocol.RefUpdatePayload) error {
	if !s.Repo.Store.Has(object.TypeCommit, ru.NewHash) {
		err := fmt.Errorf("proposed tip %s was not transferred", ru.NewHash)
		s.sendError(pc, protocol.CodeStorage, err.Error())
		return err
	}

	if !ru.Force {
		current, err := s.resolveTip(ref)
		if err != nil {
			s.sendError(pc, protocol.CodeStorage, err.Error())
			return err
		}
		ff, err := s.Repo.IsAncestor(current, ru.NewHash)
		if err != nil {
			s.sendError(pc, protocol.CodeStorage, err.Error())
			return err
		}
		if !ff {
			s.sendError(pc, protocol.CodeNonFastForward, fmt.Sprintf("ref %q: update would discard commits", ref))
			return fmt.Errorf("ref %q: %w", ref, ErrNonFastForward)
		}
	}

	if err := s.Repo.UpdateRefCAS(ref, ru.NewHash, ru.OldHash); err != nil {
		if errors.Is(err, repo.ErrCASMismatch) {
			s.sendError(pc, protocol.CodeConflict, fmt.Sprintf("ref %q moved during the session", ref))
			return err
		}
		s.sendError(pc, protocol.CodeStorage, err.Error())
		return err
	}
	return nil
}

func (s *Session) servePull(m *machine, pc *peerConn, ref string) error {
	log := s.logger().With("op", "pull", "ref", ref)

	f, err := pc.read()
	if err != nil {
		return m.fail(err)
	}
	clientHave, err := protocol.DecodeHave(f)
	if err != nil {
		s.sendError(pc, protocol.CodeProtocol, err.Error())
		return m.fail(err)
	}

	tip, err := s.resolveTip(ref)
	if err != nil {
		s.sendError(pc, protocol.CodeStorage, err.Error())
		return m.fail(err)
	}
	if tip == "" {
		err := fmt.Errorf("ref %q does not exist here", ref)
		s.sendError(pc, protocol.CodeUnknownRef, err.Error())
		return m.fail(err)
	}

	if err := m.to(StateTransferring); err != nil {
		return err
	}

	sent := 0
	if tip != clientHave.Tip {
		stop := make([]object.Hash, 0, len(clientHave.Known)+1)
		stop = append(stop, clientHave.Known...)
		if clientHave.Tip != "" {
			stop = append(stop, clientHave.Tip)
		}
		records, err := s.Repo.Store.CollectDelta([]object.Hash{tip}, stop)
		if err != nil {
			s.sendError(pc, protocol.CodeStorage, err.Error())
			return m.fail(err)
		}
		for _, rec := range records {
			of, err := protocol.EncodeObject(&protocol.ObjectPayload{
				Type: rec.Type,
				Hash: rec.Hash,
				Data: rec.Data,
			})
			if err != nil {
				return m.fail(err)
			}
			if err := pc.write(of); err != nil {
				return m.fail(err)
			}
		}
		sent = len(records)
	}

	if err := m.to(StateFinalizing); err != nil {
		return err
	}
	ru, err := protocol.EncodeRefUpdate(&protocol.RefUpdatePayload{
		Ref:     ref,
		OldHash: clientHave.Tip,
		NewHash: tip,
	})
	if err != nil {
		return m.fail(err)
	}
	if err := pc.write(ru); err != nil {
		return m.fail(err)
	}

	af, err := pc.read()
	if err != nil {
		return m.fail(err)
	}
	if af.Type == protocol.FrameError {
		return m.fail(remoteError(af))
	}
	if _, err := protocol.DecodeAck(af); err != nil {
		return m.fail(err)
	}
	if err := pc.write(protocol.EncodeDone()); err != nil {
		return m.fail(err)
	}
	if err := m.to(StateComplete); err != nil {
		return err
	}
	log.Info("pull served", "objects", sent, "tip", tip)
	return nil
}

// resolveTip reads a ref, treating an absent ref file as the empty tip.
func (s *Session) resolveTip(ref string) (object.Hash, error) {
	h, err := s.Repo.ResolveRef(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return h, nil
}

// sendError reports a failure to the peer on a best-effort basis; the
// session is already failing when this runs.
func (s *Session) sendError(pc *peerConn, code protocol.ErrorCode, msg string) {
	_ = pc.write(protocol.EncodeError(&protocol.ErrorPayload{Code: code, Message: msg}))
}

// lineageCommits collects up to max commit ids reachable from tip by
// parent links, tip included. An empty tip yields nothing.
func lineageCommits(r *repo.Repo, tip object.Hash, max int) ([]object.Hash, error) {
	if tip == "" {
		return nil, nil
	}
	var out []object.Hash
	seen := make(map[object.Hash]struct{})
	queue := []object.Hash{tip}

	for len(queue) > 0 && len(out) < max {
		h := queue[0]
		queue = queue[1:]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		c, err := r.Store.GetCommit(h)
		if err != nil {
			if errors.Is(err, object.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("lineage: %w", err)
		}
		out = append(out, h)
		queue = append(queue, c.Parents...)
	}
	return out, nil
}
