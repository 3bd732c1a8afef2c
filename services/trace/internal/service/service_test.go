package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelane/pkg/chainsdk"
	"tracelane/pkg/domain"
	"tracelane/pkg/rates"
	"tracelane/services/trace/internal/pipeline"
	"tracelane/services/trace/internal/store"
)

const (
	ownerAddr     = "0xowner"
	recipientAddr = "0xrecipient"
	reviewerAddr  = "0xreviewer"
	campOwnerAddr = "0xcampowner"
	strangerAddr  = "0xstranger"
)

type stubChain struct {
	submits   atomic.Int32
	submitErr error
	txHash    string
	receipt   chainsdk.Receipt
	waitErr   error
}

func (s *stubChain) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

func (s *stubChain) Submit(context.Context, string, domain.Call) (string, error) {
	s.submits.Add(1)
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return s.txHash, nil
}

func (s *stubChain) WaitMined(context.Context, string) (*chainsdk.Receipt, error) {
	if s.waitErr != nil {
		return nil, s.waitErr
	}
	r := s.receipt
	return &r, nil
}

type stubAuth struct{ ok bool }

func (s stubAuth) Authenticate(context.Context, domain.Actor) (bool, error) { return s.ok, nil }

type stubBalance struct{ err error }

func (s stubBalance) CheckBalance(context.Context, string) error { return s.err }

type stubProof struct {
	proof     domain.Proof
	dismissed bool
	prompts   []ProofPrompt
}

func (s *stubProof) Collect(_ context.Context, p ProofPrompt) (domain.Proof, bool, error) {
	s.prompts = append(s.prompts, p)
	if s.dismissed {
		return domain.Proof{}, false, nil
	}
	return s.proof, true, nil
}

type stubConfirm struct {
	answer bool
	asked  int
}

func (s *stubConfirm) Confirm(context.Context, string, string) (bool, error) {
	s.asked++
	return s.answer, nil
}

type sinkStub struct{ names []string }

func (s *sinkStub) Publish(_ context.Context, name string, _ map[string]any) error {
	s.names = append(s.names, name)
	return nil
}

type nopNotify struct{}

func (nopNotify) Notify(context.Context, string, string) {}

type fixedRates struct{ rates map[string]decimal.Decimal }

func (f fixedRates) FetchRates(_ context.Context, _ string, _ time.Time, dests []string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, d := range dests {
		if r, ok := f.rates[d]; ok {
			out[d] = r
		}
	}
	return out, nil
}

type fixture struct {
	svc     *Service
	st      *store.MemoryStore
	chain   *stubChain
	proof   *stubProof
	confirm *stubConfirm
	sink    *sinkStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st := store.NewMemory()
	chain := &stubChain{txHash: "0xtx1", receipt: chainsdk.Receipt{TxHash: "0xtx1", PluginAddress: "0xplugin", ProjectID: 7}}
	proof := &stubProof{proof: domain.Proof{Message: "looks good"}}
	confirm := &stubConfirm{answer: true}
	sink := &sinkStub{}

	auth := stubAuth{ok: true}
	bal := stubBalance{}
	svc := &Service{
		Store:   st,
		Pipe:    &pipeline.Pipeline{Chain: chain, Auth: auth, Balance: bal, Marker: st, Log: log},
		Auth:    auth,
		Balance: bal,
		Proof:   proof,
		Confirm: confirm,
		Events:  sink,
		Notify:  nopNotify{},
		Rates: rates.NewCache(fixedRates{rates: map[string]decimal.Decimal{
			"ETH": decimal.RequireFromString("0.0005"), // 1 USD = 0.0005 ETH
			"DAI": decimal.NewFromInt(1),
		}}),
		Log:          log,
		MinPayoutUSD: decimal.NewFromInt(5),
	}
	return &fixture{svc: svc, st: st, chain: chain, proof: proof, confirm: confirm, sink: sink}
}

func (f *fixture) seedCampaign(status domain.CampaignStatus) {
	f.st.PutCampaign(&domain.Campaign{ID: "cmp_1", Title: "Clean water", Status: status, OwnerAddress: campOwnerAddr})
}

func (f *fixture) seedTrace(status domain.TraceStatus) *domain.Trace {
	tr := &domain.Trace{
		ID:               "trc_1",
		Title:            "Dig the well",
		Status:           status,
		Flavor:           domain.FlavorMilestone,
		OwnerAddress:     ownerAddr,
		RecipientAddress: recipientAddr,
		ReviewerAddress:  reviewerAddr,
		CampaignID:       "cmp_1",
		TokenSymbol:      "ETH",
		Amount:           decimal.NewFromInt(10),
	}
	if status != domain.StatusProposed {
		tr.PluginAddress = "0xplugin"
		tr.ProjectID = 7
	}
	_ = f.st.CreateTrace(context.Background(), tr)
	return tr
}

func drain(t *testing.T, ch <-chan pipeline.Event) []pipeline.Event {
	t.Helper()
	var out []pipeline.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func actor(addr string) domain.Actor {
	return domain.Actor{Address: addr, Authenticated: true}
}

func TestAcceptByNonCampaignOwnerRejectedBeforeAnyTransaction(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusProposed)

	for _, addr := range []string{ownerAddr, recipientAddr, strangerAddr} {
		_, err := f.svc.AcceptProposedTrace(context.Background(), "trc_1", actor(addr))
		require.ErrorIs(t, err, domain.ErrInvalidTransition, "actor %s", addr)
	}
	assert.Zero(t, f.chain.submits.Load(), "no transaction may be attempted")
}

func TestAcceptOnArchivedCampaignRejectedRegardlessOfRole(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignArchived)
	f.seedTrace(domain.StatusProposed)

	_, err := f.svc.AcceptProposedTrace(context.Background(), "trc_1", actor(campOwnerAddr))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Zero(t, f.chain.submits.Load())

	// Rejecting stale proposals stays possible.
	ch, err := f.svc.RejectProposedTrace(context.Background(), "trc_1", actor(campOwnerAddr))
	require.NoError(t, err)
	evs := drain(t, ch)
	require.NotEmpty(t, evs)
	assert.Equal(t, pipeline.StageConfirmed, evs[len(evs)-1].Stage)
}

func TestAcceptConfirmedPatchesStatusAndPlugin(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusProposed)

	ch, err := f.svc.AcceptProposedTrace(context.Background(), "trc_1", actor(campOwnerAddr))
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 2)
	assert.Equal(t, pipeline.StageSubmitted, evs[0].Stage)
	assert.Equal(t, pipeline.StageConfirmed, evs[1].Stage)

	got, err := f.st.GetTrace(context.Background(), "trc_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "0xplugin", got.PluginAddress)
	assert.Equal(t, int64(7), got.ProjectID)
	assert.Empty(t, got.PendingTxHash)
	assert.Contains(t, f.sink.names, "Trace Accepted")
}

func TestSecondInvocationWhilePendingTxSet(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusProposed)
	require.NoError(t, f.st.SetPendingTx(context.Background(), "trc_1", "0xinflight"))

	_, err := f.svc.AcceptProposedTrace(context.Background(), "trc_1", actor(campOwnerAddr))
	require.ErrorIs(t, err, domain.ErrTransitionInFlight)
	assert.Zero(t, f.chain.submits.Load(), "no second transaction may be submitted")
}

func TestRoundTripProposedToPendingKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	orig := f.seedTrace(domain.StatusProposed)
	ctx := context.Background()

	ch, err := f.svc.AcceptProposedTrace(ctx, "trc_1", actor(campOwnerAddr))
	require.NoError(t, err)
	drain(t, ch)

	// Fund it so the low-funding gate passes: 1 ETH at 0.0005 ETH/USD = 2000 USD.
	cur, err := f.st.GetTrace(ctx, "trc_1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, cur.Status)
	cur.DonationCounters = []domain.DonationCounter{{TokenSymbol: "ETH", Decimals: 18, TotalDonated: decimal.NewFromInt(1), CurrentBalance: decimal.NewFromInt(1), DonationCount: 3}}
	require.NoError(t, f.st.CreateTrace(ctx, cur))

	ch, err = f.svc.RequestMarkComplete(ctx, "trc_1", actor(recipientAddr), false)
	require.NoError(t, err)
	drain(t, ch)
	cur, _ = f.st.GetTrace(ctx, "trc_1")
	require.Equal(t, domain.StatusNeedsReview, cur.Status)

	// Rejecting completion with an empty comment must fail before submission.
	f.proof.proof = domain.Proof{Message: ""}
	submitsBefore := f.chain.submits.Load()
	_, err = f.svc.RejectTraceCompletion(ctx, "trc_1", actor(reviewerAddr))
	require.ErrorIs(t, err, domain.ErrCommentRequired)
	assert.Equal(t, submitsBefore, f.chain.submits.Load())

	f.proof.proof = domain.Proof{Message: "needs more work"}
	ch, err = f.svc.RejectTraceCompletion(ctx, "trc_1", actor(reviewerAddr))
	require.NoError(t, err)
	drain(t, ch)

	got, err := f.st.GetTrace(ctx, "trc_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, orig.OwnerAddress, got.OwnerAddress)
	assert.Equal(t, orig.RecipientAddress, got.RecipientAddress)
	assert.Equal(t, orig.ReviewerAddress, got.ReviewerAddress)
	assert.Equal(t, orig.CampaignID, got.CampaignID)
}

func TestZeroDonationsNeedsExplicitConfirmation(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusPending)
	f.confirm.answer = false

	ch, err := f.svc.RequestMarkComplete(context.Background(), "trc_1", actor(ownerAddr), false)
	require.NoError(t, err)
	evs := drain(t, ch)

	assert.Empty(t, evs, "declining the confirmation is a silent no-op")
	assert.Equal(t, 1, f.confirm.asked)
	assert.Zero(t, f.chain.submits.Load())
	got, _ := f.st.GetTrace(context.Background(), "trc_1")
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestLowFundingBlocksUnlessOverridden(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	tr := f.seedTrace(domain.StatusPending)
	// 1 DAI = 1 USD, below the 5 USD minimum payout.
	tr.DonationCounters = []domain.DonationCounter{{TokenSymbol: "DAI", Decimals: 18, TotalDonated: decimal.NewFromInt(1), CurrentBalance: decimal.NewFromInt(1), DonationCount: 1}}
	require.NoError(t, f.st.CreateTrace(context.Background(), tr))

	_, err := f.svc.RequestMarkComplete(context.Background(), "trc_1", actor(ownerAddr), false)
	require.ErrorIs(t, err, domain.ErrLowFunding)
	assert.Zero(t, f.chain.submits.Load())

	ch, err := f.svc.RequestMarkComplete(context.Background(), "trc_1", actor(ownerAddr), true)
	require.NoError(t, err)
	evs := drain(t, ch)
	require.NotEmpty(t, evs)
	assert.Equal(t, pipeline.StageConfirmed, evs[len(evs)-1].Stage)
}

func TestPatchFailureAfterMiningDoesNotAdvanceRecord(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusNeedsReview)
	f.st.FailPatches(errors.New("record store down"))

	ch, err := f.svc.ApproveTraceCompletion(context.Background(), "trc_1", actor(reviewerAddr))
	require.NoError(t, err)
	evs := drain(t, ch)

	require.Len(t, evs, 2)
	assert.Equal(t, pipeline.StagePatchFailed, evs[1].Stage)
	assert.ErrorIs(t, evs[1].Err, domain.ErrPatchReconciliation)

	f.st.FailPatches(nil)
	got, _ := f.st.GetTrace(context.Background(), "trc_1")
	assert.Equal(t, domain.StatusNeedsReview, got.Status, "off-chain status stays until the next successful sync")
	assert.Empty(t, got.PendingTxHash)
}

func TestDeclinedSigningLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusProposed)
	f.chain.submitErr = domain.ErrUserDeclinedSigning

	ch, err := f.svc.AcceptProposedTrace(context.Background(), "trc_1", actor(campOwnerAddr))
	require.NoError(t, err)
	evs := drain(t, ch)

	require.Len(t, evs, 1)
	assert.Equal(t, pipeline.StageFailed, evs[0].Stage)
	assert.ErrorIs(t, evs[0].Err, domain.ErrUserDeclinedSigning)
	got, _ := f.st.GetTrace(context.Background(), "trc_1")
	assert.Equal(t, domain.StatusProposed, got.Status)
}

func TestDismissedProofPromptIsANoOp(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusProposed)
	f.proof.dismissed = true

	ch, err := f.svc.AcceptProposedTrace(context.Background(), "trc_1", actor(campOwnerAddr))
	require.NoError(t, err)
	assert.Empty(t, drain(t, ch))
	assert.Zero(t, f.chain.submits.Load())
}

func TestDeleteOnlyOffChainProposals(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusProposed)
	ctx := context.Background()

	deleted, err := f.svc.DeleteProposedTrace(ctx, "trc_1", actor(ownerAddr))
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = f.st.GetTrace(ctx, "trc_1")
	assert.ErrorIs(t, err, domain.ErrTraceNotFound)

	// An accepted (on-chain) trace can only be rejected, never deleted.
	tr := f.seedTrace(domain.StatusPending)
	_, err = f.svc.DeleteProposedTrace(ctx, tr.ID, actor(ownerAddr))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDeleteDeclinedConfirmationKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusProposed)
	f.confirm.answer = false

	deleted, err := f.svc.DeleteProposedTrace(context.Background(), "trc_1", actor(ownerAddr))
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = f.st.GetTrace(context.Background(), "trc_1")
	assert.NoError(t, err)
}

func TestProposeCreatesOffChainRecord(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)

	created, err := f.svc.ProposeTrace(context.Background(), &domain.Trace{
		Title:            "New well",
		Flavor:           domain.FlavorBridged,
		RecipientAddress: recipientAddr,
		ReviewerAddress:  reviewerAddr,
		CampaignID:       "cmp_1",
		TokenSymbol:      "ETH",
		Amount:           decimal.NewFromInt(5),
	}, actor(ownerAddr))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProposed, created.Status)
	assert.Equal(t, ownerAddr, created.OwnerAddress)
	assert.False(t, created.OnChain())
	assert.Contains(t, f.sink.names, "Trace Proposed")
}

func TestProposeRejectedForArchivedCampaign(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignArchived)

	_, err := f.svc.ProposeTrace(context.Background(), &domain.Trace{
		Title: "Too late", Flavor: domain.FlavorMilestone, CampaignID: "cmp_1",
	}, actor(ownerAddr))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestEditTraceGuardsAndRoutes(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusPending)
	ctx := context.Background()

	path, err := f.svc.EditTrace(ctx, "trc_1", actor(ownerAddr))
	require.NoError(t, err)
	assert.Equal(t, "/campaigns/cmp_1/traces/trc_1/edit", path)

	_, err = f.svc.EditTrace(ctx, "trc_1", actor(recipientAddr))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestEditRequiresBalance(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	f.seedTrace(domain.StatusPending)
	f.svc.Balance = stubBalance{err: domain.ErrInsufficientBalance}

	_, err := f.svc.EditTrace(context.Background(), "trc_1", actor(ownerAddr))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestApproveByCampaignOwnerWhenNoReviewer(t *testing.T) {
	f := newFixture(t)
	f.seedCampaign(domain.CampaignActive)
	tr := f.seedTrace(domain.StatusNeedsReview)
	tr.ReviewerAddress = ""
	require.NoError(t, f.st.CreateTrace(context.Background(), tr))

	ch, err := f.svc.ApproveTraceCompletion(context.Background(), "trc_1", actor(campOwnerAddr))
	require.NoError(t, err)
	evs := drain(t, ch)
	require.NotEmpty(t, evs)
	assert.Equal(t, pipeline.StageConfirmed, evs[len(evs)-1].Stage)

	got, _ := f.st.GetTrace(context.Background(), "trc_1")
	assert.Equal(t, domain.StatusCompleted, got.Status)
}
