package award

import (
	"rewardflow/internal/service/rule"
)

// StageView is one ladder stage as shown to the client.
type StageView struct {
	Stage     int    `json:"stage"`
	Threshold int64  `json:"threshold"`
	PrizeCode string `json:"prize_code"`
	Amount    int64  `json:"amount"`
	Awarded   bool   `json:"awarded"`
}

// Preview is the ladder progress returned with every report response.
type Preview struct {
	TotalDuration int64       `json:"total_duration"`
	RuleVersion   string      `json:"rule_version,omitempty"`
	GrayHit       bool        `json:"gray_hit,omitempty"`
	Stages        []StageView `json:"stages"`
	NextStage     *StageView  `json:"next_stage,omitempty"`
	Remaining     int64       `json:"remaining,omitempty"`
}

// BuildPreview renders the user's progress through the ladder their
// gray routing resolved to.
func BuildPreview(res rule.Resolution, defaultPrizeCode string, totalDuration int64, awarded map[string]bool) *Preview {
	p := &Preview{
		TotalDuration: totalDuration,
		RuleVersion:   res.Version,
		GrayHit:       res.GrayHit,
	}
	if res.Ladder == nil {
		return p
	}

	for _, st := range res.Ladder.Stages {
		prizeCode := rule.NormalizePrizeCode(st.PrizeCode)
		if prizeCode == "" {
			prizeCode = rule.NormalizePrizeCode(defaultPrizeCode)
		}
		view := StageView{
			Stage:     st.Stage,
			Threshold: st.Threshold,
			PrizeCode: prizeCode,
			Amount:    st.Amount,
			Awarded:   awarded[rule.AwardKey(prizeCode, st.Stage)],
		}
		p.Stages = append(p.Stages, view)

		if p.NextStage == nil && totalDuration < st.Threshold {
			next := view
			p.NextStage = &next
			p.Remaining = st.Threshold - totalDuration
		}
	}
	return p
}
