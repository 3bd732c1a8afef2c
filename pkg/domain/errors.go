package domain

import "errors"

// Failure kinds surfaced by guards, the transaction pipeline, and the
// orchestrator. Callers classify with errors.Is; everything else that bubbles
// up from the chain client or the store is wrapped in one of these.
var (
	// ErrUnauthenticated: the actor has no identity proof. Recoverable by
	// re-authenticating.
	ErrUnauthenticated = errors.New("actor is not authenticated")

	// ErrInsufficientBalance: the actor cannot pay transaction fees. Detected
	// in pre-flight, before any chain call.
	ErrInsufficientBalance = errors.New("actor has no balance to pay transaction fees")

	// ErrInvalidTransition: the requested action is not legal for the Trace's
	// current state, or the actor lacks the role. Defense in depth; the UI
	// should never let this happen.
	ErrInvalidTransition = errors.New("transition not allowed for current state")

	// ErrTransitionInFlight: a previous transition's transaction is still
	// pending for this Trace. The caller must wait for it to settle.
	ErrTransitionInFlight = errors.New("another transition is already in flight")

	// ErrUserDeclinedSigning: the actor dismissed the signing prompt. A
	// deliberate choice, surfaced without alarm.
	ErrUserDeclinedSigning = errors.New("user declined to sign the transaction")

	// ErrChainRevert: the transaction was mined but reverted.
	ErrChainRevert = errors.New("transaction reverted on chain")

	// ErrNetwork: a network failure before the transaction was mined.
	// Retryable by re-invoking the action.
	ErrNetwork = errors.New("network error")

	// ErrPatchReconciliation: the transaction was mined but the off-chain
	// record could not be patched. The chain is ahead of the record store
	// until the next sync; this must never be reported as an outright failure.
	ErrPatchReconciliation = errors.New("off-chain record patch failed after successful mining")

	// ErrCommentRequired: the action requires a non-empty justification.
	ErrCommentRequired = errors.New("a non-empty comment is required")

	// ErrLowFunding: the funded amount converts to less than the minimum
	// payout. The actor may explicitly override and proceed anyway.
	ErrLowFunding = errors.New("funded amount is below the minimum payout")

	ErrTraceNotFound    = errors.New("trace not found")
	ErrCampaignNotFound = errors.New("campaign not found")
)
