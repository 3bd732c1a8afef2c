package domain

import "fmt"

// Next returns the status a Trace moves to when action is applied in the
// given state. Role and funding guards live in the permission policy and the
// orchestrator; this table only answers state legality.
//
//	PROPOSED      ACCEPT                 -> PENDING
//	PROPOSED      REJECT                 -> REJECTED
//	PROPOSED      DELETE                 -> (record removed, see Deletable)
//	PENDING       REQUEST_MARK_COMPLETE  -> NEEDS_REVIEW
//	NEEDS_REVIEW  APPROVE_COMPLETION     -> COMPLETED
//	NEEDS_REVIEW  REJECT_COMPLETION      -> PENDING
//	*             EDIT                   -> unchanged
//
// Any other combination is an invalid transition and is never partially
// applied.
func Next(status TraceStatus, action TraceAction) (TraceStatus, error) {
	switch action {
	case ActionAccept:
		if status == StatusProposed {
			return StatusPending, nil
		}
	case ActionReject:
		if status == StatusProposed {
			return StatusRejected, nil
		}
	case ActionRequestComplete:
		if status == StatusPending {
			return StatusNeedsReview, nil
		}
	case ActionApproveCompletion:
		if status == StatusNeedsReview {
			return StatusCompleted, nil
		}
	case ActionRejectCompletion:
		if status == StatusNeedsReview {
			return StatusPending, nil
		}
	case ActionEdit:
		if Editable(status) {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, status)
}

// Editable reports whether the on-chain plugin still allows mutation of the
// Trace in the given state.
func Editable(status TraceStatus) bool {
	switch status {
	case StatusProposed, StatusRejected, StatusPending, StatusNeedsReview:
		return true
	}
	return false
}

// Deletable reports whether a Trace may be removed outright. Only a proposal
// that never made it on chain can be deleted; everything else can only be
// rejected.
func Deletable(t *Trace) error {
	if t.Status != StatusProposed {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ActionDelete, t.Status)
	}
	if t.OnChain() {
		return fmt.Errorf("%w: trace already has an on-chain record", ErrInvalidTransition)
	}
	return nil
}
