// Package service orchestrates Trace transitions: it re-validates permission
// and state-machine guards, collects the actor's proof, builds the
// flavor-specific chain call and the off-chain patch, and drives the
// transaction pipeline. UI-level gating is never the only enforcement.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tracelane/pkg/domain"
	"tracelane/pkg/rates"
	"tracelane/services/trace/internal/pipeline"
	"tracelane/services/trace/internal/store"
)

// ProofPrompt describes the proof/comment the actor is asked for.
type ProofPrompt struct {
	Title         string
	Description   string
	Required      bool
	AllowEvidence bool
}

// ProofCollector is the modal abstraction. ok=false means the actor dismissed
// the prompt; the operation becomes a silent no-op.
type ProofCollector interface {
	Collect(ctx context.Context, prompt ProofPrompt) (domain.Proof, bool, error)
}

// Confirmer asks the actor an explicit yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, title, message string) (bool, error)
}

// EventSink receives fire-and-forget analytics events. Publish failures are
// logged, never propagated.
type EventSink interface {
	Publish(ctx context.Context, name string, props map[string]any) error
}

// Notifier shows transient user-facing messages.
type Notifier interface {
	Notify(ctx context.Context, message, txHash string)
}

type Service struct {
	Store   store.RecordStore
	Pipe    *pipeline.Pipeline
	Auth    pipeline.Authenticator
	Balance pipeline.BalanceChecker
	Proof   ProofCollector
	Confirm Confirmer
	Events  EventSink
	Notify  Notifier
	Rates   *rates.Cache
	Log     logrus.FieldLogger

	// MinPayoutUSD is the payout threshold behind the low-funding warning on
	// RequestMarkComplete.
	MinPayoutUSD decimal.Decimal
}

// load fetches the Trace, its Campaign, and the actor's roles for it.
func (s *Service) load(ctx context.Context, traceID, actorAddress string) (*domain.Trace, *domain.Campaign, domain.Roles, error) {
	t, err := s.Store.GetTrace(ctx, traceID)
	if err != nil {
		return nil, nil, domain.Roles{}, err
	}
	c, err := s.Store.GetCampaign(ctx, t.CampaignID)
	if err != nil {
		return nil, nil, domain.Roles{}, err
	}
	return t, c, domain.RolesFor(actorAddress, t, c), nil
}

// requireAuthenticated resolves the identity pre-flight locally for the
// off-chain operations (the pipeline repeats it for chain-backed ones).
func (s *Service) requireAuthenticated(ctx context.Context, actor domain.Actor) error {
	ok, err := s.Auth.Authenticate(ctx, actor)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if !ok {
		return domain.ErrUnauthenticated
	}
	return nil
}

func (s *Service) guardInFlight(t *domain.Trace) error {
	if t.PendingTxHash != "" {
		return fmt.Errorf("%w: tx %s", domain.ErrTransitionInFlight, t.PendingTxHash)
	}
	return nil
}

// fundingSufficient converts the Trace's current balances to USD and compares
// against the minimum payout. Zero donation counters are the caller's case to
// handle; here they simply convert to zero.
func (s *Service) fundingSufficient(ctx context.Context, t *domain.Trace) (bool, error) {
	if len(t.DonationCounters) == 0 {
		return false, nil
	}
	items := make([]rates.LineItem, 0, len(t.DonationCounters))
	for _, c := range t.DonationCounters {
		items = append(items, rates.LineItem{Amount: c.CurrentBalance, Currency: c.TokenSymbol})
	}
	conv, err := s.Rates.ConvertMultiple(ctx, time.Now(), "USD", items)
	if err != nil {
		return false, err
	}
	return conv.Total.GreaterThanOrEqual(s.MinPayoutUSD), nil
}

// emptyStream is the result of a dismissed prompt: the stream closes without
// any stage having fired.
func emptyStream() <-chan pipeline.Event {
	ch := make(chan pipeline.Event)
	close(ch)
	return ch
}

// observe forwards pipeline events while firing notifications and analytics.
// A declined signature stays silent: it is a deliberate user choice, not an
// error condition.
func (s *Service) observe(ctx context.Context, eventName, pendingMsg, confirmedMsg string, t *domain.Trace, actor domain.Actor, in <-chan pipeline.Event) <-chan pipeline.Event {
	out := make(chan pipeline.Event, 2)
	go func() {
		defer close(out)
		for ev := range in {
			switch ev.Stage {
			case pipeline.StageSubmitted:
				s.Notify.Notify(ctx, pendingMsg, ev.TxHash)
				s.publish(ctx, eventName, t, actor, ev.TxHash)
			case pipeline.StageConfirmed:
				s.Notify.Notify(ctx, confirmedMsg, ev.TxHash)
			case pipeline.StagePatchFailed:
				s.Log.WithError(ev.Err).WithField("trace_id", t.ID).
					Warn("on-chain state is ahead of the off-chain record")
			case pipeline.StageFailed:
				if !errors.Is(ev.Err, domain.ErrUserDeclinedSigning) {
					s.Log.WithError(ev.Err).WithField("trace_id", t.ID).Warn("transition failed")
				}
			}
			out <- ev
		}
	}()
	return out
}

func (s *Service) publish(ctx context.Context, name string, t *domain.Trace, actor domain.Actor, txHash string) {
	props := map[string]any{
		"trace_id":          t.ID,
		"title":             t.Title,
		"slug":              t.Slug,
		"flavor":            string(t.Flavor),
		"owner_address":     t.OwnerAddress,
		"recipient_address": t.RecipientAddress,
		"reviewer_address":  t.ReviewerAddress,
		"campaign_id":       t.CampaignID,
		"user_address":      actor.Address,
	}
	if txHash != "" {
		props["tx_hash"] = txHash
	}
	if err := s.Events.Publish(ctx, name, props); err != nil {
		s.Log.WithError(err).WithField("event", name).Debug("analytics publish failed")
	}
}
