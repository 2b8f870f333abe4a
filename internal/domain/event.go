package domain

// Event kinds delivered over the real-time channel.
const (
	EventCommandUpdate   = "command_update"
	EventApprovalRequest = "approval_request"
)

// Event is the JSON wire shape for real-time notifications. command_update
// events go to the submitting user's sessions; approval_request events go
// to every admin session. Delivery is best-effort; a read of the command
// record is the source of truth.
type Event struct {
	Type        string      `json:"type"`
	CommandID   string      `json:"command_id,omitempty"`
	Status      Status      `json:"status,omitempty"`
	Seq         int64       `json:"seq,omitempty"`
	Result      *ExecResult `json:"result,omitempty"`
	NewBalance  *int        `json:"new_balance,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	CommandText string      `json:"command_text,omitempty"`
	SubmittedBy string      `json:"submitted_by,omitempty"`
	UserName    string      `json:"user_name,omitempty"`
}

// Notifier fans lifecycle events out to subscribed client sessions.
// Publishing never blocks on a slow subscriber.
type Notifier interface {
	PublishToUser(userID string, ev Event)
	PublishToAdmins(ev Event)
}
