package domain

import "strings"

// Roles are the actor's relationships to one Trace and its Campaign. They are
// derived fresh on every check and never cached across mutations, since a
// recipient or reviewer can be reassigned independently of status.
type Roles struct {
	IsOwner            bool
	IsRecipient        bool
	IsReviewer         bool
	IsCampaignOwner    bool
	IsCampaignCoowner  bool
	IsDelegate         bool
}

// RolesFor computes the actor's role flags for a Trace. Address comparison is
// case-insensitive (chain addresses are hex).
func RolesFor(actorAddress string, t *Trace, c *Campaign) Roles {
	if actorAddress == "" {
		return Roles{}
	}
	eq := func(a string) bool { return a != "" && strings.EqualFold(a, actorAddress) }

	r := Roles{
		IsOwner:     eq(t.OwnerAddress),
		IsRecipient: eq(t.RecipientAddress),
		IsReviewer:  eq(t.ReviewerAddress) || eq(t.CampaignReviewerAddress),
	}
	if c != nil {
		r.IsCampaignOwner = eq(c.OwnerAddress)
		r.IsCampaignCoowner = eq(c.CoownerAddress)
		for _, d := range c.DelegateAddresses {
			if eq(d) {
				r.IsDelegate = true
				break
			}
		}
	}
	return r
}
