package party

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

type inviteOp int

const (
	opNone inviteOp = iota
	opSend
	opCancel
)

type inviteOutcome struct {
	accepted bool
	err      error
}

// inviteRequest tracks the state of built-in invitations to one recipient.
type inviteRequest struct {
	forceBuiltIn bool
	next         inviteOp
	cancel       context.CancelFunc
	waiters      []chan inviteOutcome
}

// inviteBook coalesces rapid send/cancel sequences against the same
// recipient into a single in-flight RPC. Policy: while a request is in
// flight, the LAST requested operation wins and intermediate operations are
// coalesced away. A cancel aborts the in-flight RPC; if the last requested
// operation was a send, a fresh request is issued once the aborted one
// resolves, otherwise nothing further is sent. Every caller that attached to
// a request observes the same final outcome.
type inviteBook struct {
	svc *Service

	mu   sync.Mutex
	reqs map[string]*inviteRequest
}

func newInviteBook(svc *Service) *inviteBook {
	return &inviteBook{
		svc:  svc,
		reqs: make(map[string]*inviteRequest),
	}
}

func (b *inviteBook) Send(ctx context.Context, recipientID string, forceBuiltIn bool) (bool, error) {
	waiterCh := make(chan inviteOutcome, 1)

	b.mu.Lock()
	if req, inFlight := b.reqs[recipientID]; inFlight {
		req.next = opSend
		req.forceBuiltIn = forceBuiltIn
		req.waiters = append(req.waiters, waiterCh)
		b.mu.Unlock()

		return b.await(ctx, waiterCh)
	}

	req := &inviteRequest{
		forceBuiltIn: forceBuiltIn,
		waiters:      []chan inviteOutcome{waiterCh},
	}
	b.reqs[recipientID] = req
	b.mu.Unlock()

	go b.run(recipientID, req)

	return b.await(ctx, waiterCh)
}

// Cancel aborts the in-flight invitation to the recipient; a no-op when none
// exists.
func (b *inviteBook) Cancel(recipientID string) {
	b.mu.Lock()
	req, inFlight := b.reqs[recipientID]
	if !inFlight {
		b.mu.Unlock()
		return
	}

	req.next = opCancel
	cancel := req.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (b *inviteBook) await(ctx context.Context, ch chan inviteOutcome) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case out := <-ch:
		return out.accepted, out.err
	}
}

func (b *inviteBook) run(recipientID string, req *inviteRequest) {
	for {
		b.mu.Lock()
		// A cancel may have landed before this iteration stored its cancel
		// func. Consuming the queued operation here instead of resetting it
		// keeps that cancel from being lost.
		if req.next == opCancel {
			delete(b.reqs, recipientID)
			waiters := req.waiters
			req.waiters = nil
			b.mu.Unlock()

			go func() {
				_ = b.svc.sc.Rpc(b.svc.runCtx, routeCancelInvitation, cancelInvitationRequestDto{RecipientID: recipientID}, nil)
			}()

			out := inviteOutcome{err: context.Canceled}
			for _, ch := range waiters {
				ch <- out
			}

			return
		}

		rpcCtx, cancel := context.WithCancel(b.svc.runCtx)
		req.cancel = cancel
		req.next = opNone
		force := req.forceBuiltIn
		b.mu.Unlock()

		var accepted bool
		args := sendInvitationRequestDto{RecipientID: recipientID, ForceBuiltIn: force}
		err := b.svc.sc.Rpc(rpcCtx, routeSendInvitation, args, &accepted)
		cancel()

		b.mu.Lock()
		next := req.next

		if errors.Is(err, context.Canceled) && next == opSend {
			// The in-flight request was aborted but a newer send is queued:
			// issue a fresh one.
			b.mu.Unlock()
			continue
		}

		delete(b.reqs, recipientID)
		waiters := req.waiters
		req.waiters = nil
		b.mu.Unlock()

		if errors.Is(err, context.Canceled) && next == opCancel {
			// Tell the server the invitation is withdrawn; best effort.
			go func() {
				_ = b.svc.sc.Rpc(b.svc.runCtx, routeCancelInvitation, cancelInvitationRequestDto{RecipientID: recipientID}, nil)
			}()
		}

		out := inviteOutcome{accepted: accepted, err: err}
		for _, ch := range waiters {
			ch <- out
		}

		return
	}
}

// InvitationInfo describes a received invitation, regardless of transport.
type InvitationInfo struct {
	SenderID        string
	PartyID         string
	ConnectionToken string
	// Platform is empty for built-in transport invitations.
	Platform string
}

// PendingInvitation is a received invitation awaiting a decision. Its
// validity flips to false exactly once, on accept, decline or sender-side
// cancellation; every later operation fails with ErrInvalidInvitation.
type PendingInvitation struct {
	id   string
	info InvitationInfo
	mgr  *Manager

	mu    sync.Mutex
	valid bool
}

func newPendingInvitation(mgr *Manager, info InvitationInfo) *PendingInvitation {
	return &PendingInvitation{
		id:    uuid.NewString(),
		info:  info,
		mgr:   mgr,
		valid: true,
	}
}

func (i *PendingInvitation) ID() string {
	return i.id
}

func (i *PendingInvitation) SenderID() string {
	return i.info.SenderID
}

func (i *PendingInvitation) PartyID() string {
	return i.info.PartyID
}

func (i *PendingInvitation) Platform() string {
	return i.info.Platform
}

func (i *PendingInvitation) IsValid() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.valid
}

// invalidate flips the validity flag; it reports whether this call was the
// one that flipped it.
func (i *PendingInvitation) invalidate() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.valid {
		return false
	}

	i.valid = false
	return true
}

// Accept joins the sender's party. Accepting while already in a party is
// rejected without consuming the invitation.
func (i *PendingInvitation) Accept(ctx context.Context) error {
	return i.mgr.acceptInvitation(ctx, i)
}

// Decline consumes the invitation without joining.
func (i *PendingInvitation) Decline(ctx context.Context) error {
	return i.mgr.declineInvitation(ctx, i)
}
