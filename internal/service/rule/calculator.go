package rule

import (
	"fmt"
	"strings"

	"rewardflow/internal/model"
	"rewardflow/internal/rulecenter"
)

// StagePlan is one stage the user has newly earned.
type StagePlan struct {
	Stage     rulecenter.StageRule
	PrizeCode string // normalized, default applied
	Version   string
	OutBizNo  string
}

// NormalizePrizeCode canonicalizes a prize code for handler lookup and
// key building.
func NormalizePrizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AwardKey identifies one grant within a scene-day: prize code plus
// stage number. The awarded set passed to Calculate is keyed by it.
func AwardKey(prizeCode string, stage int) string {
	return fmt.Sprintf("%s#%d", prizeCode, stage)
}

// Calculate walks the ladder against the user's daily total and returns
// the stages to issue now. Stages arrive sorted by threshold, so the
// walk stops at the first unreached stage. Stages already in awarded
// are skipped, which is what makes evaluation safe to repeat on every
// report.
func Calculate(ladder *rulecenter.RuleVersion, userID, bizScene, bizDate, defaultPrizeCode string, totalDuration int64, awarded map[string]bool) []StagePlan {
	if ladder == nil {
		return nil
	}

	var plans []StagePlan
	for _, st := range ladder.Stages {
		if totalDuration < st.Threshold {
			break
		}

		prizeCode := NormalizePrizeCode(st.PrizeCode)
		if prizeCode == "" {
			prizeCode = NormalizePrizeCode(defaultPrizeCode)
		}
		if awarded[AwardKey(prizeCode, st.Stage)] {
			continue
		}

		plans = append(plans, StagePlan{
			Stage:     st,
			PrizeCode: prizeCode,
			Version:   ladder.Version,
			OutBizNo:  model.BuildOutBizNo(userID, prizeCode, bizScene, bizDate, st.Stage),
		})
	}
	return plans
}
