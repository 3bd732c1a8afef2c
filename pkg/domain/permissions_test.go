package domain

import "testing"

const (
	ownerAddr     = "0xAAA1"
	recipientAddr = "0xBBB2"
	reviewerAddr  = "0xCCC3"
	campOwnerAddr = "0xDDD4"
	coownerAddr   = "0xEEE5"
	strangerAddr  = "0xFFF6"
)

func proposedTrace() *Trace {
	return &Trace{
		ID:               "trc_p",
		Status:           StatusProposed,
		Flavor:           FlavorMilestone,
		OwnerAddress:     ownerAddr,
		RecipientAddress: recipientAddr,
		ReviewerAddress:  reviewerAddr,
		CampaignID:       "cmp_1",
	}
}

func activeCampaign() *Campaign {
	return &Campaign{ID: "cmp_1", Status: CampaignActive, OwnerAddress: campOwnerAddr, CoownerAddress: coownerAddr}
}

func TestOnlyCampaignOwnersAcceptOrReject(t *testing.T) {
	tr := proposedTrace()
	c := activeCampaign()
	for _, addr := range []string{campOwnerAddr, coownerAddr} {
		r := RolesFor(addr, tr, c)
		if !CanAccept(r, tr, c) || !CanReject(r, tr) {
			t.Fatalf("%s should be able to accept and reject", addr)
		}
	}
	for _, addr := range []string{ownerAddr, recipientAddr, reviewerAddr, strangerAddr} {
		r := RolesFor(addr, tr, c)
		if CanAccept(r, tr, c) || CanReject(r, tr) {
			t.Fatalf("%s must not accept or reject", addr)
		}
	}
}

func TestArchivedCampaignSuppressesAcceptNotReject(t *testing.T) {
	tr := proposedTrace()
	c := activeCampaign()
	c.Status = CampaignArchived
	r := RolesFor(campOwnerAddr, tr, c)
	if CanAccept(r, tr, c) {
		t.Fatal("accept must be blocked for archived campaign regardless of role")
	}
	if !CanReject(r, tr) {
		t.Fatal("reject should stay available for archived campaign")
	}
}

func TestRequestCompleteByOwnerOrRecipientOnly(t *testing.T) {
	tr := proposedTrace()
	tr.Status = StatusPending
	c := activeCampaign()
	for _, addr := range []string{ownerAddr, recipientAddr} {
		if !CanRequestComplete(RolesFor(addr, tr, c), tr) {
			t.Fatalf("%s should be able to request completion", addr)
		}
	}
	for _, addr := range []string{reviewerAddr, campOwnerAddr, strangerAddr} {
		if CanRequestComplete(RolesFor(addr, tr, c), tr) {
			t.Fatalf("%s must not request completion", addr)
		}
	}
	tr.Status = StatusProposed
	if CanRequestComplete(RolesFor(ownerAddr, tr, c), tr) {
		t.Fatal("request completion is only legal from PENDING")
	}
}

func TestCompletionReview(t *testing.T) {
	tr := proposedTrace()
	tr.Status = StatusNeedsReview
	c := activeCampaign()

	if !CanApproveCompletion(RolesFor(reviewerAddr, tr, c), tr) {
		t.Fatal("reviewer should approve")
	}
	if !CanRejectCompletion(RolesFor(reviewerAddr, tr, c), tr) {
		t.Fatal("reviewer should reject")
	}
	// Campaign owner only stands in when there is no reviewer.
	if CanApproveCompletion(RolesFor(campOwnerAddr, tr, c), tr) {
		t.Fatal("campaign owner must not approve while a reviewer exists")
	}
	tr.ReviewerAddress = ""
	if !CanApproveCompletion(RolesFor(campOwnerAddr, tr, c), tr) {
		t.Fatal("campaign owner should approve when no reviewer is set")
	}
	if CanRejectCompletion(RolesFor(campOwnerAddr, tr, c), tr) {
		t.Fatal("reject completion stays reviewer-only")
	}
}

func TestCappedFlavorAlwaysHasReviewer(t *testing.T) {
	tr := proposedTrace()
	tr.Status = StatusNeedsReview
	tr.Flavor = FlavorLPPCapped
	tr.ReviewerAddress = ""
	tr.CampaignReviewerAddress = reviewerAddr
	c := activeCampaign()
	if CanApproveCompletion(RolesFor(campOwnerAddr, tr, c), tr) {
		t.Fatal("capped flavor bakes a reviewer in; owner must not stand in")
	}
	if !CanApproveCompletion(RolesFor(reviewerAddr, tr, c), tr) {
		t.Fatal("campaign reviewer should approve capped trace")
	}
}

func TestEditAndDelete(t *testing.T) {
	tr := proposedTrace()
	c := activeCampaign()
	if !CanEdit(RolesFor(ownerAddr, tr, c), tr) {
		t.Fatal("owner should edit a proposed trace")
	}
	if CanEdit(RolesFor(recipientAddr, tr, c), tr) {
		t.Fatal("recipient must not edit")
	}
	tr.Status = StatusPaid
	if CanEdit(RolesFor(ownerAddr, tr, c), tr) {
		t.Fatal("paid trace is immutable")
	}

	tr2 := proposedTrace()
	if !CanDelete(RolesFor(ownerAddr, tr2, c), tr2) {
		t.Fatal("proposer should delete an off-chain proposal")
	}
	tr2.ProjectID = 42
	if CanDelete(RolesFor(ownerAddr, tr2, c), tr2) {
		t.Fatal("on-chain trace must not be deletable")
	}
}

func TestRoleComparisonIsCaseInsensitive(t *testing.T) {
	tr := proposedTrace()
	c := activeCampaign()
	r := RolesFor("0xaaa1", tr, c)
	if !r.IsOwner {
		t.Fatal("address comparison should ignore case")
	}
}
