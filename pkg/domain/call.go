package domain

import "fmt"

// Call is a chain transaction request: a method invocation against the
// Trace's plugin (or its parent campaign plugin, depending on flavor). The
// byte-level ABI encoding is the chain client's concern.
type Call struct {
	To     string `json:"to"`
	Method string `json:"method"`
	Args   []any  `json:"args,omitempty"`
}

// CallEncoder produces the chain call for each transition. Implemented once
// per flavor; this is the only place flavor-specific plugin knowledge lives.
type CallEncoder interface {
	AcceptCall(t *Trace) (Call, error)
	RejectCall(t *Trace) (Call, error)
	MarkCompleteCall(t *Trace) (Call, error)
	ApproveCompletionCall(t *Trace) (Call, error)
	RejectCompletionCall(t *Trace) (Call, error)
}

// EncoderFor returns the encoder for the Trace's flavor.
func EncoderFor(f TraceFlavor) (CallEncoder, error) {
	switch f {
	case FlavorBridged:
		return bridgedEncoder{}, nil
	case FlavorLPPCapped:
		return lppCappedEncoder{}, nil
	case FlavorLP:
		return lpEncoder{}, nil
	case FlavorMilestone:
		return milestoneEncoder{}, nil
	}
	return nil, fmt.Errorf("unknown trace flavor %q", f)
}

func requirePlugin(t *Trace) error {
	if t.PluginAddress == "" {
		return fmt.Errorf("trace %s has no plugin address", t.ID)
	}
	return nil
}

// bridgedEncoder targets the bridged milestone plugin, which exposes the full
// transition surface directly.
type bridgedEncoder struct{}

func (bridgedEncoder) AcceptCall(t *Trace) (Call, error) {
	// Accepting a proposal deploys the plugin via the campaign, so the call
	// targets the campaign project, not a plugin that does not exist yet.
	return Call{To: t.CampaignID, Method: "addMilestone", Args: []any{t.Title, t.RecipientAddress, t.ReviewerAddress, t.Amount.String(), t.TokenSymbol}}, nil
}

func (bridgedEncoder) RejectCall(t *Trace) (Call, error) {
	return Call{To: t.CampaignID, Method: "rejectProposal", Args: []any{t.ID}}, nil
}

func (bridgedEncoder) MarkCompleteCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "requestMarkAsComplete"}, nil
}

func (bridgedEncoder) ApproveCompletionCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "approveCompleted"}, nil
}

func (bridgedEncoder) RejectCompletionCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "rejectCompleted"}, nil
}

// lppCappedEncoder targets the deprecated capped plugin, which routes
// completion review through the campaign reviewer and enforces the cap.
type lppCappedEncoder struct{}

func (lppCappedEncoder) AcceptCall(t *Trace) (Call, error) {
	return Call{To: t.CampaignID, Method: "addCappedMilestone", Args: []any{t.Title, t.RecipientAddress, t.ReviewerAddress, t.CampaignReviewerAddress, t.Cap.String(), t.TokenSymbol}}, nil
}

func (lppCappedEncoder) RejectCall(t *Trace) (Call, error) {
	return Call{To: t.CampaignID, Method: "rejectProposal", Args: []any{t.ID}}, nil
}

func (lppCappedEncoder) MarkCompleteCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "requestMarkMilestoneComplete", Args: []any{t.ProjectID}}, nil
}

func (lppCappedEncoder) ApproveCompletionCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "approveMilestoneCompleted", Args: []any{t.ProjectID}}, nil
}

func (lppCappedEncoder) RejectCompletionCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "rejectMilestoneCompleted", Args: []any{t.ProjectID}}, nil
}

// lpEncoder targets a plain liquid-pledging project with no dedicated
// milestone plugin; transitions go through the pledging admin interface.
type lpEncoder struct{}

func (lpEncoder) AcceptCall(t *Trace) (Call, error) {
	return Call{To: t.CampaignID, Method: "addProject", Args: []any{t.Title, t.RecipientAddress}}, nil
}

func (lpEncoder) RejectCall(t *Trace) (Call, error) {
	return Call{To: t.CampaignID, Method: "rejectProposal", Args: []any{t.ID}}, nil
}

func (lpEncoder) MarkCompleteCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "updateProject", Args: []any{t.ProjectID, string(StatusNeedsReview)}}, nil
}

func (lpEncoder) ApproveCompletionCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "updateProject", Args: []any{t.ProjectID, string(StatusCompleted)}}, nil
}

func (lpEncoder) RejectCompletionCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "updateProject", Args: []any{t.ProjectID, string(StatusPending)}}, nil
}

// milestoneEncoder is the current-generation milestone plugin.
type milestoneEncoder struct{}

func (milestoneEncoder) AcceptCall(t *Trace) (Call, error) {
	return Call{To: t.CampaignID, Method: "addMilestone", Args: []any{t.Title, t.RecipientAddress, t.ReviewerAddress, t.Amount.String(), t.TokenSymbol}}, nil
}

func (milestoneEncoder) RejectCall(t *Trace) (Call, error) {
	return Call{To: t.CampaignID, Method: "rejectProposal", Args: []any{t.ID}}, nil
}

func (milestoneEncoder) MarkCompleteCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "requestReview"}, nil
}

func (milestoneEncoder) ApproveCompletionCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "approveCompleted"}, nil
}

func (milestoneEncoder) RejectCompletionCall(t *Trace) (Call, error) {
	if err := requirePlugin(t); err != nil {
		return Call{}, err
	}
	return Call{To: t.PluginAddress, Method: "rejectCompleted"}, nil
}
