package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tracelane/pkg/chainsdk"
	"tracelane/pkg/domain"
	"tracelane/services/trace/internal/pipeline"
	"tracelane/services/trace/internal/store"
)

// ProposeTrace creates the off-chain proposal record. No transaction: a
// proposal only reaches the chain once accepted.
func (s *Service) ProposeTrace(ctx context.Context, t *domain.Trace, actor domain.Actor) (*domain.Trace, error) {
	if err := s.requireAuthenticated(ctx, actor); err != nil {
		return nil, err
	}
	c, err := s.Store.GetCampaign(ctx, t.CampaignID)
	if err != nil {
		return nil, err
	}
	if !domain.CanPropose(c) {
		return nil, fmt.Errorf("%w: campaign %s is not accepting proposals", domain.ErrInvalidTransition, c.ID)
	}
	if !t.Flavor.Valid() {
		return nil, fmt.Errorf("invalid trace flavor %q", t.Flavor)
	}
	t.ID = "trc_" + uuid.NewString()
	t.Status = domain.StatusProposed
	t.OwnerAddress = actor.Address
	t.PluginAddress = ""
	t.ProjectID = 0
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	if err := s.Store.CreateTrace(ctx, t); err != nil {
		return nil, err
	}
	s.publish(ctx, "Trace Proposed", t, actor, "")
	s.Notify.Notify(ctx, "Your Trace proposal has been submitted for review.", "")
	return t, nil
}

// AcceptProposedTrace moves a proposal to PENDING through the chain. Streams
// the pipeline stages; a dismissed proof prompt yields an empty stream.
func (s *Service) AcceptProposedTrace(ctx context.Context, traceID string, actor domain.Actor) (<-chan pipeline.Event, error) {
	t, c, r, err := s.load(ctx, traceID, actor.Address)
	if err != nil {
		return nil, err
	}
	if !domain.CanAccept(r, t, c) {
		return nil, fmt.Errorf("%w: actor %s may not accept this proposal", domain.ErrInvalidTransition, actor.Address)
	}
	next, err := domain.Next(t.Status, domain.ActionAccept)
	if err != nil {
		return nil, err
	}
	if err := s.guardInFlight(t); err != nil {
		return nil, err
	}

	proof, ok, err := s.Proof.Collect(ctx, ProofPrompt{
		Title:       "Accept proposed Trace",
		Description: "Your acceptance will be recorded as a publicly visible comment.",
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return emptyStream(), nil
	}

	enc, err := domain.EncoderFor(t.Flavor)
	if err != nil {
		return nil, err
	}
	call, err := enc.AcceptCall(t)
	if err != nil {
		return nil, err
	}

	ch := s.Pipe.Run(ctx, pipeline.Op{
		TraceID: t.ID,
		Actor:   actor,
		Call:    call,
		Patch: func(ctx context.Context, txHash string, rcpt *chainsdk.Receipt) error {
			p := store.TracePatch{Status: &next, Message: &proof.Message}
			// Accepting deploys the plugin; record where it landed.
			if rcpt.PluginAddress != "" {
				p.PluginAddress = &rcpt.PluginAddress
			}
			if rcpt.ProjectID != 0 {
				p.ProjectID = &rcpt.ProjectID
			}
			return s.Store.PatchTrace(ctx, t.ID, p)
		},
	})
	return s.observe(ctx, "Trace Accepted",
		"Accepting this Trace is pending...",
		"The Trace has been accepted!", t, actor, ch), nil
}

// RejectProposedTrace moves a proposal to REJECTED. Allowed even on archived
// campaigns; only accepting new work is suppressed there.
func (s *Service) RejectProposedTrace(ctx context.Context, traceID string, actor domain.Actor) (<-chan pipeline.Event, error) {
	t, _, r, err := s.load(ctx, traceID, actor.Address)
	if err != nil {
		return nil, err
	}
	if !domain.CanReject(r, t) {
		return nil, fmt.Errorf("%w: actor %s may not reject this proposal", domain.ErrInvalidTransition, actor.Address)
	}
	next, err := domain.Next(t.Status, domain.ActionReject)
	if err != nil {
		return nil, err
	}
	if err := s.guardInFlight(t); err != nil {
		return nil, err
	}

	proof, ok, err := s.Proof.Collect(ctx, ProofPrompt{
		Title:       "Reject proposed Trace",
		Description: "Optionally explain why you reject this proposed Trace.",
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return emptyStream(), nil
	}

	enc, err := domain.EncoderFor(t.Flavor)
	if err != nil {
		return nil, err
	}
	call, err := enc.RejectCall(t)
	if err != nil {
		return nil, err
	}

	ch := s.Pipe.Run(ctx, pipeline.Op{
		TraceID: t.ID,
		Actor:   actor,
		Call:    call,
		Patch: func(ctx context.Context, _ string, _ *chainsdk.Receipt) error {
			return s.Store.PatchTrace(ctx, t.ID, store.TracePatch{Status: &next, Message: &proof.Message})
		},
	})
	return s.observe(ctx, "Trace Rejected",
		"Rejecting this proposal is pending...",
		"The proposed Trace has been rejected.", t, actor, ch), nil
}

// DeleteProposedTrace removes a proposal that never made it on chain. Pure
// off-chain removal; on-chain Traces can only be rejected. Returns false when
// the actor declines the confirmation.
func (s *Service) DeleteProposedTrace(ctx context.Context, traceID string, actor domain.Actor) (bool, error) {
	if err := s.requireAuthenticated(ctx, actor); err != nil {
		return false, err
	}
	t, _, r, err := s.load(ctx, traceID, actor.Address)
	if err != nil {
		return false, err
	}
	if !domain.CanDelete(r, t) {
		if derr := domain.Deletable(t); derr != nil {
			return false, derr
		}
		return false, fmt.Errorf("%w: actor %s may not delete this trace", domain.ErrInvalidTransition, actor.Address)
	}

	ok, err := s.Confirm.Confirm(ctx, "Delete Trace?",
		fmt.Sprintf("Are you sure you want to delete %q? This cannot be undone.", t.Title))
	if err != nil || !ok {
		return false, err
	}
	if err := s.Store.DeleteTrace(ctx, t.ID); err != nil {
		return false, err
	}
	s.publish(ctx, "Trace Deleted", t, actor, "")
	s.Notify.Notify(ctx, "The Trace has been deleted.", "")
	return true, nil
}

// RequestMarkComplete claims completion of a pending Trace. When nothing has
// been donated yet the actor must explicitly confirm; when the funded amount
// is below the minimum payout the actor must explicitly override.
func (s *Service) RequestMarkComplete(ctx context.Context, traceID string, actor domain.Actor, skipLowFunding bool) (<-chan pipeline.Event, error) {
	t, _, r, err := s.load(ctx, traceID, actor.Address)
	if err != nil {
		return nil, err
	}
	if !domain.CanRequestComplete(r, t) {
		return nil, fmt.Errorf("%w: actor %s may not request completion", domain.ErrInvalidTransition, actor.Address)
	}
	next, err := domain.Next(t.Status, domain.ActionRequestComplete)
	if err != nil {
		return nil, err
	}
	if err := s.guardInFlight(t); err != nil {
		return nil, err
	}

	if len(t.DonationCounters) == 0 {
		ok, err := s.Confirm.Confirm(ctx, "Mark Trace Complete?",
			"Are you sure you want to mark this Trace as complete? You have yet to receive any donations.")
		if err != nil {
			return nil, err
		}
		if !ok {
			return emptyStream(), nil
		}
	} else if !skipLowFunding {
		sufficient, err := s.fundingSufficient(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
		}
		if !sufficient {
			return nil, domain.ErrLowFunding
		}
	}

	proof, ok, err := s.Proof.Collect(ctx, ProofPrompt{
		Title:         "Mark Trace complete",
		Description:   "Describe what you've done to finish the work of this Trace and attach proof if necessary.",
		AllowEvidence: true,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return emptyStream(), nil
	}

	enc, err := domain.EncoderFor(t.Flavor)
	if err != nil {
		return nil, err
	}
	call, err := enc.MarkCompleteCall(t)
	if err != nil {
		return nil, err
	}

	ch := s.Pipe.Run(ctx, pipeline.Op{
		TraceID: t.ID,
		Actor:   actor,
		Call:    call,
		Patch: func(ctx context.Context, _ string, _ *chainsdk.Receipt) error {
			p := store.TracePatch{Status: &next, Message: &proof.Message}
			if proof.EvidenceRef != "" {
				p.EvidenceRef = &proof.EvidenceRef
			}
			return s.Store.PatchTrace(ctx, t.ID, p)
		},
	})
	return s.observe(ctx, "Trace Marked Complete",
		"Marking this Trace as complete is pending...",
		"The Trace has been marked as complete!", t, actor, ch), nil
}

// ApproveTraceCompletion is the reviewer's approval, moving the Trace to
// COMPLETED.
func (s *Service) ApproveTraceCompletion(ctx context.Context, traceID string, actor domain.Actor) (<-chan pipeline.Event, error) {
	t, _, r, err := s.load(ctx, traceID, actor.Address)
	if err != nil {
		return nil, err
	}
	if !domain.CanApproveCompletion(r, t) {
		return nil, fmt.Errorf("%w: actor %s may not approve completion", domain.ErrInvalidTransition, actor.Address)
	}
	next, err := domain.Next(t.Status, domain.ActionApproveCompletion)
	if err != nil {
		return nil, err
	}
	if err := s.guardInFlight(t); err != nil {
		return nil, err
	}

	proof, ok, err := s.Proof.Collect(ctx, ProofPrompt{
		Title:       "Approve Trace completion",
		Description: "Optionally explain why you approve the completion of this Trace.",
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return emptyStream(), nil
	}

	enc, err := domain.EncoderFor(t.Flavor)
	if err != nil {
		return nil, err
	}
	call, err := enc.ApproveCompletionCall(t)
	if err != nil {
		return nil, err
	}

	ch := s.Pipe.Run(ctx, pipeline.Op{
		TraceID: t.ID,
		Actor:   actor,
		Call:    call,
		Patch: func(ctx context.Context, _ string, _ *chainsdk.Receipt) error {
			return s.Store.PatchTrace(ctx, t.ID, store.TracePatch{Status: &next, Message: &proof.Message})
		},
	})
	return s.observe(ctx, "Trace Completion Approved",
		"Approving this Trace is pending...",
		"The Trace has been approved!", t, actor, ch), nil
}

// RejectTraceCompletion sends claimed work back to PENDING. A non-empty
// justification is mandatory and checked before any transaction is attempted.
func (s *Service) RejectTraceCompletion(ctx context.Context, traceID string, actor domain.Actor) (<-chan pipeline.Event, error) {
	t, _, r, err := s.load(ctx, traceID, actor.Address)
	if err != nil {
		return nil, err
	}
	if !domain.CanRejectCompletion(r, t) {
		return nil, fmt.Errorf("%w: actor %s may not reject completion", domain.ErrInvalidTransition, actor.Address)
	}
	next, err := domain.Next(t.Status, domain.ActionRejectCompletion)
	if err != nil {
		return nil, err
	}
	if err := s.guardInFlight(t); err != nil {
		return nil, err
	}

	proof, ok, err := s.Proof.Collect(ctx, ProofPrompt{
		Title:       "Reject Trace completion",
		Description: "Explain why you rejected the completion of this Trace.",
		Required:    true,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return emptyStream(), nil
	}
	if proof.Message == "" {
		return nil, domain.ErrCommentRequired
	}

	enc, err := domain.EncoderFor(t.Flavor)
	if err != nil {
		return nil, err
	}
	call, err := enc.RejectCompletionCall(t)
	if err != nil {
		return nil, err
	}

	ch := s.Pipe.Run(ctx, pipeline.Op{
		TraceID: t.ID,
		Actor:   actor,
		Call:    call,
		Patch: func(ctx context.Context, _ string, _ *chainsdk.Receipt) error {
			return s.Store.PatchTrace(ctx, t.ID, store.TracePatch{Status: &next, Message: &proof.Message})
		},
	})
	return s.observe(ctx, "Trace Completion Rejected",
		"Rejecting this Trace's completion is pending...",
		"The Trace's completion has been rejected.", t, actor, ch), nil
}

// EditTrace is guard and navigation only: no transaction, no patch. It
// returns the edit location for the caller to route to.
func (s *Service) EditTrace(ctx context.Context, traceID string, actor domain.Actor) (string, error) {
	if err := s.requireAuthenticated(ctx, actor); err != nil {
		return "", err
	}
	if err := s.Balance.CheckBalance(ctx, actor.Address); err != nil {
		return "", err
	}
	t, _, r, err := s.load(ctx, traceID, actor.Address)
	if err != nil {
		return "", err
	}
	if !domain.CanEdit(r, t) {
		return "", fmt.Errorf("%w: actor %s may not edit this trace", domain.ErrInvalidTransition, actor.Address)
	}
	return fmt.Sprintf("/campaigns/%s/traces/%s/edit", t.CampaignID, t.ID), nil
}
