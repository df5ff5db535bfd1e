package award

// IssueContext carries everything a handler needs to describe one
// grant.
type IssueContext struct {
	UserID      string
	BizScene    string
	BizDate     string
	OutBizNo    string
	TraceID     string
	Stage       int
	Threshold   int64
	Amount      int64
	PrizeCode   string // normalized
	RuleVersion string
}

// Handler shapes the downstream event for one prize type. Persistence
// is shared by the issuer; handlers only decide the event type and
// payload.
type Handler interface {
	// PrizeCode returns the normalized prize code this handler serves.
	PrizeCode() string

	// EventType returns the outbox event type emitted for this prize.
	EventType() string

	// BuildPayload renders the event body. eventID is the identity the
	// payload must carry so consumers can deduplicate.
	BuildPayload(eventID string, ic IssueContext) (string, error)
}
