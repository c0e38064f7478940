package hierarchy

// Action is an edit applied to a hierarchy config.
type Action string

const (
	ActionRequest Action = "request"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// ActionSyncSettings only changes sync settings and keeps the status.
const ActionSyncSettings Action = "sync-settings"

// NextStatus returns the status reached by applying action to current.
// Reject and cancel clear the request, so they lead back to none.
func NextStatus(current ApprovalStatus, action Action) (ApprovalStatus, error) {
	switch action {
	case ActionRequest:
		return StatusPending, nil
	case ActionApprove:
		if current == StatusPending {
			return StatusApproved, nil
		}
	case ActionReject:
		if current == StatusPending {
			return StatusNone, nil
		}
	case ActionCancel:
		if current == StatusPending || current == StatusApproved {
			return StatusNone, nil
		}
	}
	return current, ErrInvalidTransition
}
