package domain

// Permission policy: one query per action, since UI affordances differ per
// action. All of these are pure over (roles, trace status, campaign status)
// and must be re-derived on every check.

// CanPropose reports whether a new Trace may be proposed under the campaign.
// Anyone authenticated may propose against an active campaign.
func CanPropose(c *Campaign) bool {
	return c != nil && c.Status == CampaignActive
}

// CanAcceptOrReject is the affordance query for the proposal review pair.
// Whether accept specifically is allowed also depends on campaign archival;
// see CanAccept.
func CanAcceptOrReject(r Roles, t *Trace) bool {
	return t.Status == StatusProposed && (r.IsCampaignOwner || r.IsCampaignCoowner)
}

// CanAccept additionally requires the campaign not to be archived. An
// archived campaign suppresses accepting new work but still allows rejecting
// stale proposals.
func CanAccept(r Roles, t *Trace, c *Campaign) bool {
	if c == nil || c.Status == CampaignArchived {
		return false
	}
	return CanAcceptOrReject(r, t)
}

func CanReject(r Roles, t *Trace) bool {
	return CanAcceptOrReject(r, t)
}

// CanRequestComplete: owner or recipient of a pending Trace may claim
// completion. Funding sufficiency is the orchestrator's concern, not the
// policy's.
func CanRequestComplete(r Roles, t *Trace) bool {
	return t.Status == StatusPending && (r.IsOwner || r.IsRecipient)
}

// CanApproveOrRejectCompletion is the affordance query for the review pair.
func CanApproveOrRejectCompletion(r Roles, t *Trace) bool {
	return CanApproveCompletion(r, t) || CanRejectCompletion(r, t)
}

// CanApproveCompletion: the reviewer approves; when the Trace has no reviewer
// the campaign owner stands in.
func CanApproveCompletion(r Roles, t *Trace) bool {
	if t.Status != StatusNeedsReview {
		return false
	}
	if t.HasReviewer() {
		return r.IsReviewer
	}
	return r.IsCampaignOwner
}

// CanRejectCompletion: only the reviewer may send work back.
func CanRejectCompletion(r Roles, t *Trace) bool {
	return t.Status == StatusNeedsReview && r.IsReviewer
}

// CanEdit: the owner may edit while the on-chain plugin still allows
// mutation.
func CanEdit(r Roles, t *Trace) bool {
	return r.IsOwner && Editable(t.Status)
}

// CanDelete: the proposer may remove a proposal that never made it on chain.
func CanDelete(r Roles, t *Trace) bool {
	return r.IsOwner && Deletable(t) == nil
}
