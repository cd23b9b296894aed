package transfer

// PolicyConfig tunes the separation-of-duties rules. Defaults are the
// strict mode: creator, checker and sender must be three distinct people
// before stock leaves the source location.
type PolicyConfig struct {
	// AllowCreatorSend lets the creator also perform the send step.
	// Creator and checker are still never the same person.
	AllowCreatorSend bool

	// RequireDistinctReceiver extends the rule to the destination side:
	// whoever verifies or completes must not be the sender.
	RequireDistinctReceiver bool
}

// Policy enforces separation of duties across the transfer control points.
type Policy struct {
	cfg PolicyConfig
}

// NewPolicy builds a policy with the given configuration.
func NewPolicy(cfg PolicyConfig) *Policy {
	return &Policy{cfg: cfg}
}

// slot identifies a control point an actor can occupy on a transfer.
type slot int

const (
	slotCreator slot = iota
	slotChecker
	slotSender
	slotVerifier
)

// CanCheck reports whether actorID may approve or reject the transfer.
func (p *Policy) CanCheck(t *Transfer, actorID int64) error {
	return p.canOccupy(t, actorID, slotChecker)
}

// CanSend reports whether actorID may perform the send step.
func (p *Policy) CanSend(t *Transfer, actorID int64) error {
	return p.canOccupy(t, actorID, slotSender)
}

// CanVerify reports whether actorID may verify items or complete.
func (p *Policy) CanVerify(t *Transfer, actorID int64) error {
	return p.canOccupy(t, actorID, slotVerifier)
}

func (p *Policy) canOccupy(t *Transfer, actorID int64, sl slot) error {
	occupied := func(by *int64) bool { return by != nil && *by == actorID }

	switch sl {
	case slotChecker:
		if t.CreatedBy == actorID {
			return &SeparationOfDutiesError{Actor: actorID, Conflict: "checker cannot be the creator"}
		}
	case slotSender:
		if t.CreatedBy == actorID && !p.cfg.AllowCreatorSend {
			return &SeparationOfDutiesError{Actor: actorID, Conflict: "sender cannot be the creator"}
		}
		if occupied(t.CheckedBy) {
			return &SeparationOfDutiesError{Actor: actorID, Conflict: "sender cannot be the checker"}
		}
	case slotVerifier:
		if p.cfg.RequireDistinctReceiver && occupied(t.SentBy) {
			return &SeparationOfDutiesError{Actor: actorID, Conflict: "receiver cannot be the sender"}
		}
	}
	return nil
}
