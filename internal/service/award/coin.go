package award

import (
	"encoding/json"

	"rewardflow/internal/model"
)

// CoinHandler issues in-app coin balances.
type CoinHandler struct{}

func (h *CoinHandler) PrizeCode() string { return "COIN" }

func (h *CoinHandler) EventType() string { return model.EventTypeAwardCreated }

func (h *CoinHandler) BuildPayload(eventID string, ic IssueContext) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"eventId":   eventID,
		"eventType": h.EventType(),
		"outBizNo":  ic.OutBizNo,
		"userId":    ic.UserID,
		"bizScene":  ic.BizScene,
		"bizDate":   ic.BizDate,
		"stage":       ic.Stage,
		"prizeCode":   h.PrizeCode(),
		"amount":      ic.Amount,
		"ruleVersion": ic.RuleVersion,
		"traceId":     ic.TraceID,
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}
