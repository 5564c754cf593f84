package status

import (
	"time"

	"github.com/lennylistens/listend/internal/intake"
)

// Status is the lifecycle state of one generation request.
type Status string

const (
	Pending    Status = "pending"
	Generating Status = "generating"
	Ready      Status = "ready"
	Error      Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == Ready || s == Error
}

// Record is the persisted view of one generation request, keyed by the
// conversation id of the intake that created it. The embedded intake is
// immutable after creation; url and id fields are populated only once the
// record is ready.
type Record struct {
	ConversationID string        `json:"conversation_id"`
	Status         Status        `json:"status"`
	Intake         intake.Record `json:"intake"`
	PerspectiveID  string        `json:"perspective_id,omitempty"`
	PreviewURL     string        `json:"preview_url,omitempty"`
	ShareURL       string        `json:"share_url,omitempty"`
	ErrorMessage   string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	GeneratedAt    time.Time     `json:"generated_at,omitzero"`
}
