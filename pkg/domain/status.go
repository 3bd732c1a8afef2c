package domain

// TraceStatus is the lifecycle state of a Trace. The off-chain record mirrors
// the on-chain plugin state; PAYMENTS_ONGOING and PAID are downstream of this
// core and treated as terminal here.
type TraceStatus string

const (
	StatusProposed        TraceStatus = "PROPOSED"
	StatusRejected        TraceStatus = "REJECTED"
	StatusPending         TraceStatus = "PENDING"
	StatusNeedsReview     TraceStatus = "NEEDS_REVIEW"
	StatusCompleted       TraceStatus = "COMPLETED"
	StatusCanceled        TraceStatus = "CANCELED"
	StatusPaymentsOngoing TraceStatus = "PAYMENTS_ONGOING"
	StatusPaid            TraceStatus = "PAID"
)

type TraceAction string

const (
	ActionPropose          TraceAction = "PROPOSE"
	ActionAccept           TraceAction = "ACCEPT"
	ActionReject           TraceAction = "REJECT"
	ActionDelete           TraceAction = "DELETE"
	ActionRequestComplete  TraceAction = "REQUEST_MARK_COMPLETE"
	ActionApproveCompletion TraceAction = "APPROVE_COMPLETION"
	ActionRejectCompletion  TraceAction = "REJECT_COMPLETION"
	ActionEdit             TraceAction = "EDIT"
)

type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "ACTIVE"
	CampaignCanceled CampaignStatus = "CANCELED"
	CampaignArchived CampaignStatus = "ARCHIVED"
)

// TraceFlavor discriminates the four on-chain plugin variants a Trace can be
// backed by. Flavor-specific behavior is limited to contract call encoding and
// a couple of extra record fields; everything else in the lifecycle is shared.
type TraceFlavor string

const (
	FlavorBridged   TraceFlavor = "BRIDGED"
	FlavorLPPCapped TraceFlavor = "LPP_CAPPED"
	FlavorLP        TraceFlavor = "LP"
	FlavorMilestone TraceFlavor = "MILESTONE"
)

func (f TraceFlavor) Valid() bool {
	switch f {
	case FlavorBridged, FlavorLPPCapped, FlavorLP, FlavorMilestone:
		return true
	}
	return false
}
