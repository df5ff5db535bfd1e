package award

import (
	"encoding/json"

	"rewardflow/internal/model"
)

// CouponHandler issues coupon grants. PrizeAmount is the coupon
// template count to mint.
type CouponHandler struct{}

func (h *CouponHandler) PrizeCode() string { return "COUPON" }

func (h *CouponHandler) EventType() string { return model.EventTypeCouponCreated }

func (h *CouponHandler) BuildPayload(eventID string, ic IssueContext) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"eventId":     eventID,
		"eventType":   h.EventType(),
		"outBizNo":    ic.OutBizNo,
		"userId":      ic.UserID,
		"bizScene":    ic.BizScene,
		"bizDate":     ic.BizDate,
		"stage":       ic.Stage,
		"prizeCode":   h.PrizeCode(),
		"couponCount": ic.Amount,
		"ruleVersion": ic.RuleVersion,
		"traceId":     ic.TraceID,
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}
