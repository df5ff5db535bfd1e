package award

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardflow/internal/rulecenter"
	"rewardflow/internal/service/rule"
)

func previewLadder() rule.Resolution {
	return rule.Resolution{
		Version: "v1",
		Ladder: &rulecenter.RuleVersion{
			Version: "v1",
			Stages: []rulecenter.StageRule{
				{Stage: 1, Threshold: 100, Amount: 10, PrizeCode: "COIN"},
				{Stage: 2, Threshold: 300, Amount: 30, PrizeCode: "COIN"},
			},
		},
	}
}

func TestBuildPreview(t *testing.T) {
	awarded := map[string]bool{rule.AwardKey("COIN", 1): true}

	p := BuildPreview(previewLadder(), "COIN", 150, awarded)
	assert.Equal(t, "v1", p.RuleVersion)
	require.Len(t, p.Stages, 2)
	assert.True(t, p.Stages[0].Awarded)
	assert.False(t, p.Stages[1].Awarded)
	require.NotNil(t, p.NextStage)
	assert.Equal(t, 2, p.NextStage.Stage)
	assert.Equal(t, int64(150), p.Remaining)
}

func TestBuildPreview_LadderComplete(t *testing.T) {
	p := BuildPreview(previewLadder(), "COIN", 500, map[string]bool{})
	assert.Nil(t, p.NextStage)
	assert.Zero(t, p.Remaining)
}

func TestBuildPreview_BlankPrizeCodeUsesDefault(t *testing.T) {
	res := rule.Resolution{
		Version: "v1",
		Ladder: &rulecenter.RuleVersion{
			Version: "v1",
			Stages:  []rulecenter.StageRule{{Stage: 1, Threshold: 100, Amount: 10}},
		},
	}

	p := BuildPreview(res, "coin", 150, map[string]bool{rule.AwardKey("COIN", 1): true})
	require.Len(t, p.Stages, 1)
	assert.Equal(t, "COIN", p.Stages[0].PrizeCode)
	assert.True(t, p.Stages[0].Awarded)
}

func TestBuildPreview_NilLadder(t *testing.T) {
	p := BuildPreview(rule.Resolution{Version: "v1"}, "COIN", 100, nil)
	assert.Empty(t, p.Stages)
	assert.Equal(t, int64(100), p.TotalDuration)
}
