package audit

import (
	"context"
	"encoding/json"
	"time"

	"rewardflow/internal/feature"
	"rewardflow/pkg/log"
	"rewardflow/pkg/queue"
)

// Event is one audit record. Fire and forget: losing an audit event
// never fails the operation it describes.
type Event struct {
	Action   string                 `json:"action"`
	UserID   string                 `json:"user_id"`
	BizScene string                 `json:"biz_scene"`
	TraceID  string                 `json:"trace_id,omitempty"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
	At       int64                  `json:"at"`
}

// Recorder publishes audit events to the audit topic.
type Recorder struct {
	q     queue.Queue
	flags *feature.Flags
	topic string
}

// NewRecorder creates an audit recorder
func NewRecorder(q queue.Queue, flags *feature.Flags, topic string) *Recorder {
	return &Recorder{q: q, flags: flags, topic: topic}
}

// Record emits one audit event. Best effort, failures are logged only.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if !r.flags.AuditEnabled() {
		return
	}
	event.At = time.Now().UnixMilli()

	body, err := json.Marshal(event)
	if err != nil {
		log.Warnf("Audit event marshal failed: %v", err)
		return
	}

	msg := queue.Message{
		RoutingKey: "audit." + event.Action,
		Headers:    map[string]string{"traceId": event.TraceID},
		Body:       body,
	}
	if err := r.q.Publish(ctx, r.topic, msg); err != nil {
		log.Warnf("Audit event dropped: %v", err)
	}
}
