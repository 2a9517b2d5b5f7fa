package gamemap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/pathing"
	"github.com/cory-johannsen/rotator/internal/game/rotation"
)

// yamlMapFile is the top-level YAML structure for map files.
type yamlMapFile struct {
	Map yamlMap `yaml:"map"`
}

type yamlMap struct {
	Name                   string              `yaml:"name"`
	Identity               string              `yaml:"identity"`
	Mode                   string              `yaml:"mode"`
	MobbingKey             *action.Definition  `yaml:"mobbing_key"`
	AutoMob                yamlAutoMob         `yaml:"auto_mob"`
	PingPong               yamlPingPong        `yaml:"ping_pong"`
	Platforms              []pathing.Platform  `yaml:"platforms"`
	Gaps                   []pathing.Gap       `yaml:"gaps"`
	UpJumpOnly             bool                `yaml:"up_jump_only"`
	ScriptDir              string              `yaml:"script_dir"`
	ScriptInstructionLimit int                 `yaml:"script_instruction_limit"`
	Navigation             *yamlDestination    `yaml:"navigation"`
	Actions                []action.Definition `yaml:"actions"`
}

type yamlAutoMob struct {
	Bound              geom.Bound `yaml:"bound"`
	UsePlatformBound   bool       `yaml:"use_platform_bound"`
	GracePeriodMillis  int        `yaml:"grace_period_millis"`
	UseKeyWhilePathing bool       `yaml:"use_key_when_pathing"`
	DetectMillis       int        `yaml:"detect_interval_millis"`
}

type yamlPingPong struct {
	Bound geom.Bound `yaml:"bound"`
	Step  int        `yaml:"step"`
}

type yamlDestination struct {
	Group string `yaml:"group"`
	Path  string `yaml:"path"`
}

// Defaults supply the tunables a map file may omit.
type Defaults struct {
	GracePeriod    time.Duration
	DetectInterval time.Duration
}

// LoadMapFromFile reads and validates a single map YAML file. A relative
// script_dir is resolved against the file's directory.
//
// Precondition: path must point to a valid YAML map file.
// Postcondition: Returns a validated Map or a non-nil error.
func LoadMapFromFile(path string, bindings action.Bindings, d Defaults) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file %s: %w", path, err)
	}
	m, err := LoadMapFromBytes(data, bindings, d)
	if err != nil {
		return nil, err
	}
	if m.ScriptDir != "" && !filepath.IsAbs(m.ScriptDir) {
		m.ScriptDir = filepath.Join(filepath.Dir(path), m.ScriptDir)
	}
	return m, nil
}

// LoadMapFromBytes parses and validates a map from YAML bytes.
//
// Postcondition: Returns a validated Map or a non-nil error.
func LoadMapFromBytes(data []byte, bindings action.Bindings, d Defaults) (*Map, error) {
	var file yamlMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing map YAML: %w", err)
	}
	m := convertYAMLMap(file.Map, d)
	if err := m.Validate(bindings); err != nil {
		return nil, fmt.Errorf("validating map: %w", err)
	}
	return m, nil
}

// LoadMapsFromDir loads all YAML files in a directory as maps.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns all validated maps or the first error encountered.
func LoadMapsFromDir(dir string, bindings action.Bindings, d Defaults) ([]*Map, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading map directory %s: %w", dir, err)
	}

	var maps []*Map
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		m, err := LoadMapFromFile(filepath.Join(dir, name), bindings, d)
		if err != nil {
			return nil, fmt.Errorf("loading map from %s: %w", name, err)
		}
		maps = append(maps, m)
	}

	if len(maps) == 0 {
		return nil, fmt.Errorf("no map files found in %s", dir)
	}
	return maps, nil
}

// convertYAMLMap converts the parsed YAML structures into domain types.
func convertYAMLMap(ym yamlMap, d Defaults) *Map {
	m := &Map{
		Name:     ym.Name,
		Identity: ym.Identity,
		Mode:     rotation.Mode(ym.Mode),
		Actions:  action.FromDefinitions(ym.Actions),
		AutoMob: AutoMobSettings{
			Bound:              ym.AutoMob.Bound,
			UsePlatformBound:   ym.AutoMob.UsePlatformBound,
			GracePeriod:        time.Duration(ym.AutoMob.GracePeriodMillis) * time.Millisecond,
			UseKeyWhilePathing: ym.AutoMob.UseKeyWhilePathing,
			DetectInterval:     time.Duration(ym.AutoMob.DetectMillis) * time.Millisecond,
		},
		PingPong:               PingPongSettings{Bound: ym.PingPong.Bound, Step: ym.PingPong.Step},
		Platforms:              ym.Platforms,
		Gaps:                   ym.Gaps,
		UpJumpOnly:             ym.UpJumpOnly,
		ScriptDir:              ym.ScriptDir,
		ScriptInstructionLimit: ym.ScriptInstructionLimit,
	}
	if m.Mode == "" {
		m.Mode = rotation.StartToEnd
	}
	if m.AutoMob.GracePeriod == 0 {
		m.AutoMob.GracePeriod = d.GracePeriod
	}
	if m.AutoMob.DetectInterval == 0 {
		m.AutoMob.DetectInterval = d.DetectInterval
	}
	if ym.MobbingKey != nil {
		k := ym.MobbingKey.ToAction()
		if k.Kind == "" {
			k.Kind = action.KindKey
		}
		m.MobbingKey = &k
	}
	if ym.Navigation != nil {
		m.Destination = &Destination{Group: ym.Navigation.Group, Path: ym.Navigation.Path}
	}
	return m
}
