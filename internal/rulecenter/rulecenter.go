package rulecenter

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"rewardflow/pkg/log"
)

// StageRule is one rung of a reward ladder. PrizeCode may be blank, in
// which case the configured default applies at evaluation time.
type StageRule struct {
	Stage     int    `json:"stage"`
	Threshold int64  `json:"threshold"` // seconds of play to unlock this stage
	Amount    int64  `json:"amount"`
	PrizeCode string `json:"prize_code,omitempty"`
}

// RuleVersion is a named, immutable ladder. Versions are swapped
// wholesale; a scene points at exactly one active version.
type RuleVersion struct {
	Version string      `json:"version"`
	Stages  []StageRule `json:"stages"`
}

// GrayRule routes a bucket of users to a target version instead of the
// active one.
type GrayRule struct {
	Enabled       bool   `json:"enabled"`
	Expr          string `json:"expr"`
	TargetVersion string `json:"target_version"`
}

// SceneConfig is the full rule set for one business scene.
type SceneConfig struct {
	BizScene      string        `json:"biz_scene"`
	Enabled       bool          `json:"enabled"`
	ActiveVersion string        `json:"active_version"`
	Gray          *GrayRule     `json:"gray,omitempty"`
	Versions      []RuleVersion `json:"versions"`
}

// Version returns the named ladder, or nil when the scene does not
// carry it.
func (sc *SceneConfig) Version(name string) *RuleVersion {
	if sc == nil || name == "" {
		return nil
	}
	for i := range sc.Versions {
		if sc.Versions[i].Version == name {
			return &sc.Versions[i]
		}
	}
	return nil
}

// Active returns the scene's active ladder, or nil when misconfigured.
func (sc *SceneConfig) Active() *RuleVersion {
	if sc == nil {
		return nil
	}
	return sc.Version(sc.ActiveVersion)
}

type ruleFile struct {
	Version string        `json:"version"`
	Scenes  []SceneConfig `json:"scenes"`
}

// Snapshot is an immutable view of the rule set. Readers hold one
// snapshot for a whole evaluation so a reload mid-request cannot mix
// old and new ladders.
type Snapshot struct {
	Version  string
	LoadedAt time.Time
	scenes   map[string]*SceneConfig
}

// Scene returns the config for a scene, or nil when the scene is
// unknown or disabled.
func (s *Snapshot) Scene(bizScene string) *SceneConfig {
	if s == nil {
		return nil
	}
	cfg, ok := s.scenes[bizScene]
	if !ok || !cfg.Enabled {
		return nil
	}
	return cfg
}

// Scenes returns all configured scene names.
func (s *Snapshot) Scenes() []string {
	names := make([]string, 0, len(s.scenes))
	for name := range s.scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Center loads the rule file and serves snapshots. Reload swaps the
// snapshot pointer atomically; a bad file keeps the previous snapshot.
type Center struct {
	path     string
	snapshot atomic.Pointer[Snapshot]
}

// NewCenter creates a Center and performs the initial load.
func NewCenter(path string) (*Center, error) {
	c := &Center{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the current snapshot.
func (c *Center) Get() *Snapshot {
	return c.snapshot.Load()
}

// Reload re-reads the rule file and swaps the snapshot.
func (c *Center) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read rule file: %w", err)
	}

	var file ruleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse rule file %s: %w", c.path, err)
	}

	scenes := make(map[string]*SceneConfig, len(file.Scenes))
	for i := range file.Scenes {
		scene := file.Scenes[i]
		for v := range scene.Versions {
			stages := scene.Versions[v].Stages
			// ladder order: lowest threshold first, stage breaks ties
			sort.SliceStable(stages, func(a, b int) bool {
				if stages[a].Threshold != stages[b].Threshold {
					return stages[a].Threshold < stages[b].Threshold
				}
				return stages[a].Stage < stages[b].Stage
			})
		}
		scenes[scene.BizScene] = &scene
	}

	c.snapshot.Store(&Snapshot{
		Version:  file.Version,
		LoadedAt: time.Now(),
		scenes:   scenes,
	})
	log.Infof("Rule snapshot loaded: version=%s scenes=%d", file.Version, len(scenes))
	return nil
}

// Watch reloads the snapshot when the rule file changes. Runs until
// the watcher fails; call in a goroutine.
func (c *Center) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(c.path); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := c.Reload(); err != nil {
					log.Errorf("Rule reload failed, keeping previous snapshot: %v", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("Rule file watcher error: %v", err)
		}
	}
}
