package votes

import (
	"fmt"

	"github.com/google/uuid"
)

// InputValidator rejects malformed target ids and unknown vote types
type InputValidator struct{}

// NewInputValidator creates the default validator
func NewInputValidator() *InputValidator {
	return &InputValidator{}
}

// ValidateTargetID requires a UUID, which is how definitions are keyed
func (v *InputValidator) ValidateTargetID(targetID string) error {
	if targetID == "" {
		return NewValidationError("targetId", "required")
	}
	if _, err := uuid.Parse(targetID); err != nil {
		return NewValidationError("targetId", fmt.Sprintf("must be a UUID, got %q", targetID))
	}
	return nil
}

// ValidateVoteInput checks both the target id and the vote type
func (v *InputValidator) ValidateVoteInput(targetID string, voteType VoteType) error {
	if err := v.ValidateTargetID(targetID); err != nil {
		return err
	}
	if voteType == "" {
		return NewValidationError("voteType", "required")
	}
	if !voteType.Valid() {
		return NewValidationError("voteType", fmt.Sprintf("must be %q or %q", VoteUp, VoteDown))
	}
	return nil
}
