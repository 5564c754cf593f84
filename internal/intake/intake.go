package intake

import (
	"errors"
	"strings"
	"time"
)

// ErrMissingConversationID is returned when an inbound payload carries no
// usable identifier under any of the accepted key names.
var ErrMissingConversationID = errors.New("missing conversation_id/interview_id")

// Known use cases. Inbound payloads may spell these with underscores or
// spaces; Canonical folds the known spellings, everything else passes
// through verbatim.
const (
	UseCaseFeatureRequest  = "feature_request"
	UseCaseNewProduct      = "new_product_discovery"
	UseCaseFeatureFeedback = "existing_feature_feedback"
)

// Record is one customer's research request as collected by the intake form.
// JSON tags mirror the external wire shape.
type Record struct {
	ConversationID    string    `json:"conversation_id"`
	Name              string    `json:"name"`
	CompanyDomain     string    `json:"company_domain"`
	UseCase           string    `json:"use_case"`
	ProblemToSolve    string    `json:"problem_to_solve,omitempty"`
	CurrentWorkaround string    `json:"current_workaround,omitempty"`
	MarketOrAudience  string    `json:"market_or_audience,omitempty"`
	Hypothesis        string    `json:"hypothesis,omitempty"`
	FeatureName       string    `json:"feature_name,omitempty"`
	FeedbackAspects   string    `json:"feedback_aspects,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// WebhookPayload is the inbound notification shape. Several historical key
// names exist for both the identifier and the field bag; all are tolerated.
type WebhookPayload struct {
	InterviewID      string            `json:"interview_id"`
	ConversationID   string            `json:"conversation_id"`
	ID               string            `json:"id"`
	StructuredOutput map[string]string `json:"structured_output"`
	Fields           map[string]string `json:"fields"`
	ParticipantMeta  ParticipantMeta   `json:"participant_metadata"`
}

type ParticipantMeta struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// Identifier returns the conversation id under whichever key it arrived.
func (p WebhookPayload) Identifier() string {
	switch {
	case p.InterviewID != "":
		return p.InterviewID
	case p.ConversationID != "":
		return p.ConversationID
	default:
		return p.ID
	}
}

// FieldBag returns the collected field values, preferring structured_output.
func (p WebhookPayload) FieldBag() map[string]string {
	if p.StructuredOutput != nil {
		return p.StructuredOutput
	}
	if p.Fields != nil {
		return p.Fields
	}
	return map[string]string{}
}

// FromWebhook maps an inbound payload to a Record. The only hard requirement
// is an identifier; every field degrades to a usable default.
func FromWebhook(p WebhookPayload, now time.Time) (Record, error) {
	id := p.Identifier()
	if id == "" {
		return Record{}, ErrMissingConversationID
	}

	fields := p.FieldBag()

	name := fields["name"]
	if name == "" {
		name = p.ParticipantMeta.Name
	}
	if name == "" {
		name = "Unknown"
	}

	useCase := fields["use_case"]
	if useCase == "" {
		useCase = UseCaseFeatureRequest
	}

	return Record{
		ConversationID:    id,
		Name:              name,
		CompanyDomain:     fields["company_domain"],
		UseCase:           useCase,
		ProblemToSolve:    fields["problem_to_solve"],
		CurrentWorkaround: fields["current_workaround"],
		MarketOrAudience:  fields["market_or_audience"],
		Hypothesis:        fields["hypothesis"],
		FeatureName:       fields["feature_name"],
		FeedbackAspects:   fields["feedback_aspects"],
		CreatedAt:         now.UTC(),
	}, nil
}

// Canonical folds the underscore/space spelling variants of the three known
// use cases into their canonical form. Unrecognized values are returned
// unchanged; the prompt compiler's default branch handles them.
func Canonical(useCase string) string {
	switch strings.ToLower(strings.ReplaceAll(useCase, "_", " ")) {
	case "feature request", "feature requests":
		return UseCaseFeatureRequest
	case "new product discovery":
		return UseCaseNewProduct
	case "existing feature feedback":
		return UseCaseFeatureFeedback
	}
	return useCase
}

// UseCaseLabel returns a display label for CLI and MCP output.
func UseCaseLabel(useCase string) string {
	switch Canonical(useCase) {
	case UseCaseFeatureRequest:
		return "Feature Requests"
	case UseCaseNewProduct:
		return "Product Discovery"
	case UseCaseFeatureFeedback:
		return "Feature Feedback"
	}
	return "Customer Research"
}

