// Package pipeline drives one chain transaction and its off-chain patch
// through a typed three-stage event stream. The stream makes the ordering and
// at-most-once-per-stage guarantees structural: stages are emitted from a
// single goroutine, the channel closes after the terminal stage, and
// Submitted always precedes Confirmed or Failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"tracelane/pkg/chainsdk"
	"tracelane/pkg/domain"
)

type Stage string

const (
	// StageSubmitted: the chain accepted the transaction into its pending
	// pool. The caller may show optimistic, reversible state.
	StageSubmitted Stage = "SUBMITTED"
	// StageConfirmed: mined successfully and the off-chain record patched.
	StageConfirmed Stage = "CONFIRMED"
	// StageFailed: declined signing, revert, or a network error before
	// mining. The pending marker is cleared so a retry is possible.
	StageFailed Stage = "FAILED"
	// StagePatchFailed: mined successfully but the off-chain patch failed.
	// The chain is ahead of the record store; this is a reconciliation
	// warning, not an outright failure.
	StagePatchFailed Stage = "PATCH_FAILED"
)

// Event is one observed pipeline stage. Err is set for StageFailed and
// StagePatchFailed only.
type Event struct {
	Stage  Stage
	TxHash string
	Err    error
}

// Authenticator proves the actor's identity. External collaborator.
type Authenticator interface {
	Authenticate(ctx context.Context, actor domain.Actor) (bool, error)
}

// BalanceChecker verifies the actor can pay transaction fees. External
// collaborator; returns domain.ErrInsufficientBalance when broke.
type BalanceChecker interface {
	CheckBalance(ctx context.Context, address string) error
}

// Marker owns the Trace's pending-transaction flag.
type Marker interface {
	SetPendingTx(ctx context.Context, traceID, txHash string) error
	ClearPendingTx(ctx context.Context, traceID string) error
}

// Op is one concrete transition: the chain call plus the off-chain patch to
// apply once mined.
type Op struct {
	TraceID string
	Actor   domain.Actor
	Call    domain.Call
	// Patch records the new off-chain state after successful mining.
	Patch func(ctx context.Context, txHash string, rcpt *chainsdk.Receipt) error
}

type Pipeline struct {
	Chain   chainsdk.Client
	Auth    Authenticator
	Balance BalanceChecker
	Marker  Marker
	Log     logrus.FieldLogger
}

// Run executes the operation and returns its event stream. The channel is
// buffered and closed after the terminal event; a caller that abandons it
// leaks nothing. The pipeline never retries and imposes no timeout of its
// own: it waits on the chain client's mining notification, whose own failure
// signaling eventually produces a failed outcome.
func (p *Pipeline) Run(ctx context.Context, op Op) <-chan Event {
	out := make(chan Event, 2)
	go func() {
		defer close(out)
		p.run(ctx, op, out)
	}()
	return out
}

func (p *Pipeline) run(ctx context.Context, op Op, out chan<- Event) {
	log := p.Log.WithFields(logrus.Fields{"trace_id": op.TraceID, "method": op.Call.Method})

	// Pre-flight, before any chain call. Failures here skip Submitted
	// entirely.
	ok, err := p.Auth.Authenticate(ctx, op.Actor)
	if err != nil {
		out <- Event{Stage: StageFailed, Err: fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)}
		return
	}
	if !ok {
		out <- Event{Stage: StageFailed, Err: domain.ErrUnauthenticated}
		return
	}
	if err := p.Balance.CheckBalance(ctx, op.Actor.Address); err != nil {
		out <- Event{Stage: StageFailed, Err: err}
		return
	}

	txHash, err := p.Chain.Submit(ctx, op.Actor.Address, op.Call)
	if err != nil {
		if errors.Is(err, domain.ErrUserDeclinedSigning) {
			log.Info("user declined signing")
		} else {
			log.WithError(err).Warn("transaction submission failed")
		}
		out <- Event{Stage: StageFailed, Err: err}
		return
	}

	if err := p.Marker.SetPendingTx(ctx, op.TraceID, txHash); err != nil {
		// The transaction is already on its way; a marker failure must not
		// abort the pipeline, only lose the busy signal.
		log.WithError(err).Error("could not set pending transaction marker")
	}
	log.WithField("tx_hash", txHash).Info("transaction submitted")
	out <- Event{Stage: StageSubmitted, TxHash: txHash}

	rcpt, err := p.Chain.WaitMined(ctx, txHash)
	if err != nil {
		p.clearMarker(ctx, op.TraceID, log)
		out <- Event{Stage: StageFailed, TxHash: txHash, Err: err}
		return
	}
	if rcpt.Reverted {
		log.WithField("tx_hash", txHash).Warn("transaction reverted")
		p.clearMarker(ctx, op.TraceID, log)
		out <- Event{Stage: StageFailed, TxHash: txHash, Err: fmt.Errorf("%w: tx %s", domain.ErrChainRevert, txHash)}
		return
	}

	patchErr := op.Patch(ctx, txHash, rcpt)
	p.clearMarker(ctx, op.TraceID, log)
	if patchErr != nil {
		log.WithError(patchErr).WithField("tx_hash", txHash).Error("off-chain patch failed after mining")
		out <- Event{Stage: StagePatchFailed, TxHash: txHash, Err: fmt.Errorf("%w: %v", domain.ErrPatchReconciliation, patchErr)}
		return
	}
	log.WithField("tx_hash", txHash).Info("transition confirmed")
	out <- Event{Stage: StageConfirmed, TxHash: txHash}
}

func (p *Pipeline) clearMarker(ctx context.Context, traceID string, log logrus.FieldLogger) {
	if err := p.Marker.ClearPendingTx(ctx, traceID); err != nil {
		log.WithError(err).Error("could not clear pending transaction marker")
	}
}
