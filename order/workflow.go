package order

import (
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

var allowedTransitions = map[models.WorkflowStatus][]models.WorkflowStatus{
	models.StateCreated:        {models.StateRedirected, models.StateOrdered, models.StateFailed},
	models.StateRedirected:     {models.StateOrdered, models.StateFailed},
	models.StateOrdered:        {models.StateProofSubmitted, models.StateFailed},
	models.StateProofSubmitted: {models.StateUnderReview, models.StateFailed},
	models.StateUnderReview:    {models.StateApproved, models.StateRejected, models.StateFailed},
	models.StateApproved:       {models.StateRewardPending, models.StateFailed},
	models.StateRewardPending:  {models.StateCompleted, models.StateFailed},
}

// Terminal reports whether no further workflow transitions are legal.
func Terminal(state models.WorkflowStatus) bool {
	switch state {
	case models.StateCompleted, models.StateFailed, models.StateRejected:
		return true
	}
	return false
}

// ValidateTransition ensures the move follows the defined state machine.
func ValidateTransition(current, next models.WorkflowStatus) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fault.InvalidWorkflowState(string(current), string(next))
	}
	for _, state := range allowed {
		if state == next {
			return nil
		}
	}
	return fault.InvalidWorkflowState(string(current), string(next))
}

// affiliateTerminal reports whether the affiliate status locks the order
// against further mutation.
func affiliateTerminal(status models.AffiliateStatus) bool {
	switch status {
	case models.AffiliateSettled, models.AffiliateRejected, models.AffiliateFraudAlert:
		return true
	}
	return false
}

// terminalFault maps a locking affiliate status to its public fault.
func terminalFault(status models.AffiliateStatus) error {
	if status == models.AffiliateFraudAlert {
		return fault.OrderFraudFlagged()
	}
	return fault.OrderFinalized()
}
