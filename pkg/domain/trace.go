package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trace is a funded unit of work under a Campaign. A single record type
// carries all four flavors; flavor-specific fields are zero-valued for the
// flavors that do not use them.
type Trace struct {
	ID    string      `json:"trace_id"`
	Title string      `json:"title"`
	Slug  string      `json:"slug"`
	Status TraceStatus `json:"status"`
	Flavor TraceFlavor `json:"flavor"`

	OwnerAddress     string `json:"owner_address"`
	RecipientAddress string `json:"recipient_address"`
	ReviewerAddress  string `json:"reviewer_address,omitempty"`

	// LPP_CAPPED only: the campaign-level reviewer baked into the plugin.
	CampaignReviewerAddress string `json:"campaign_reviewer_address,omitempty"`

	CampaignID string `json:"campaign_id"`

	// PluginAddress and ProjectID identify the on-chain record. Both stay
	// zero until the proposal has been submitted on chain, which is what
	// makes a proposed Trace deletable.
	PluginAddress string `json:"plugin_address,omitempty"`
	ProjectID     int64  `json:"project_id,omitempty"`

	TokenSymbol string          `json:"token_symbol"`
	Amount      decimal.Decimal `json:"amount"`
	// LPP_CAPPED only: the donation cap enforced by the plugin.
	Cap decimal.Decimal `json:"cap,omitempty"`

	DonationCounters []DonationCounter `json:"donation_counters"`
	FullyFunded      bool              `json:"fully_funded"`

	// PendingTxHash is set while a transition's transaction is in flight and
	// cleared on confirmation or failure. At most one transition may be in
	// flight per Trace.
	PendingTxHash string `json:"pending_tx_hash,omitempty"`

	Message     string `json:"message,omitempty"`
	EvidenceRef string `json:"evidence_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OnChain reports whether the Trace has an on-chain record. Proposed Traces
// are created off-chain first and only get a plugin once accepted.
func (t *Trace) OnChain() bool {
	return t.PluginAddress != "" || t.ProjectID != 0
}

func (t *Trace) HasReviewer() bool {
	if t.Flavor == FlavorLPPCapped {
		// The capped plugin always bakes a reviewer in.
		return true
	}
	return t.ReviewerAddress != ""
}

// DonationCounter summarizes donations received in one token.
type DonationCounter struct {
	TokenSymbol    string          `json:"token_symbol"`
	Decimals       int             `json:"decimals"`
	TotalDonated   decimal.Decimal `json:"total_donated"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	DonationCount  int             `json:"donation_count"`
}

// Campaign is the parent aggregate. Read-only from the Trace core's
// perspective.
type Campaign struct {
	ID                string         `json:"campaign_id"`
	Title             string         `json:"title"`
	Status            CampaignStatus `json:"status"`
	OwnerAddress      string         `json:"owner_address"`
	CoownerAddress    string         `json:"coowner_address,omitempty"`
	DelegateAddresses []string       `json:"delegate_addresses,omitempty"`
}

// Actor is the identity invoking a transition. Role flags relative to a Trace
// are never stored here; see RolesFor.
type Actor struct {
	Address       string `json:"address"`
	Name          string `json:"name,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// Proof is the free-text justification collected for a transition, optionally
// with an attached evidence reference.
type Proof struct {
	Message     string `json:"message"`
	EvidenceRef string `json:"evidence_ref,omitempty"`
}

// TransitionRequest is the ephemeral per-invocation value consumed by the
// orchestrator. Never persisted.
type TransitionRequest struct {
	Action              TraceAction
	Trace               *Trace
	ActorAddress        string
	Proof               Proof
	SkipLowFundingCheck bool
}
