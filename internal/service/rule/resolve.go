package rule

import (
	"rewardflow/internal/rulecenter"
	"rewardflow/pkg/log"
)

// Resolution is the ladder picked for one user after gray routing.
type Resolution struct {
	Ladder  *rulecenter.RuleVersion
	Version string
	GrayHit bool
}

// Resolve picks the ladder a user evaluates against. The active version
// is the default; a gray rule with a matching expression switches the
// user to the target version. A broken expression or a target version
// the scene does not carry falls back to active, never to nothing.
func Resolve(scene *rulecenter.SceneConfig, userID string) Resolution {
	if scene == nil {
		return Resolution{}
	}

	active := Resolution{Ladder: scene.Active(), Version: scene.ActiveVersion}

	gray := scene.Gray
	if gray == nil || !gray.Enabled || gray.Expr == "" {
		return active
	}

	hit, err := EvalExpr(gray.Expr, userID)
	if err != nil {
		log.Warnf("Gray expression rejected, scene=%s expr=%q: %v", scene.BizScene, gray.Expr, err)
		return active
	}
	if !hit {
		return active
	}

	target := scene.Version(gray.TargetVersion)
	if target == nil {
		log.Warnf("Gray target version %q missing in scene %s, using active", gray.TargetVersion, scene.BizScene)
		return active
	}
	return Resolution{Ladder: target, Version: gray.TargetVersion, GrayHit: true}
}
