// Package config provides Viper-based configuration loading for the rotator.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// Components overrides Level per subsystem, e.g. executor: debug.
	Components map[string]string `mapstructure:"components"`
}

// SchedulerConfig holds tick loop settings.
type SchedulerConfig struct {
	// TickInterval is the fixed scheduler period.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// StaleAfter is the snapshot age tolerated before detection is stale.
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// CommandBuffer is the capacity of the control command queue.
	CommandBuffer int `mapstructure:"command_buffer"`
	// Map is the map the run starts on.
	Map string `mapstructure:"map"`
	// Autostart starts the rotation as soon as the engine runs.
	Autostart bool `mapstructure:"autostart"`
}

// KeysConfig holds the character's key bindings.
type KeysConfig struct {
	Left          string `mapstructure:"left"`
	Right         string `mapstructure:"right"`
	Up            string `mapstructure:"up"`
	Down          string `mapstructure:"down"`
	Jump          string `mapstructure:"jump"`
	UpJump        string `mapstructure:"up_jump"`
	Grapple       string `mapstructure:"grapple"`
	Teleport      string `mapstructure:"teleport"`
	Escape        string `mapstructure:"escape"`
	Interact      string `mapstructure:"interact"`
	ChangeChannel string `mapstructure:"change_channel"`
	ReturnToTown  string `mapstructure:"return_to_town"`
	Booster       string `mapstructure:"booster"`
	HexaBooster   string `mapstructure:"hexa_booster"`
	Familiar      string `mapstructure:"familiar"`
	Essence       string `mapstructure:"essence"`
	// Skills lists every other bound key an action list may press.
	Skills []string `mapstructure:"skills"`
}

// BuffConfig is one buff the character keeps active.
type BuffConfig struct {
	Name          string   `mapstructure:"name"`
	Key           string   `mapstructure:"key"`
	ExclusiveWith []string `mapstructure:"exclusive_with"`
}

// CharacterConfig holds the character's bindings and key timing.
type CharacterConfig struct {
	Keys              KeysConfig    `mapstructure:"keys"`
	TapHold           time.Duration `mapstructure:"tap_hold"`
	LinkKeyDelay      time.Duration `mapstructure:"link_key_delay"`
	LinkAlongDelay    time.Duration `mapstructure:"link_along_delay"`
	DisableWalking    bool          `mapstructure:"disable_walking"`
	DisableDoubleJump bool          `mapstructure:"disable_double_jump"`
	Buffs             []BuffConfig  `mapstructure:"buffs"`
	// RuneBuff is the buff granted by a solved rune.
	RuneBuff string `mapstructure:"rune_buff"`
	// BoosterBuff is the buff granted by the booster.
	BoosterBuff     string `mapstructure:"booster_buff"`
	HexaBoosterBuff string `mapstructure:"hexa_booster_buff"`
	// FamiliarEvery is the familiar swap interval.
	FamiliarEvery time.Duration `mapstructure:"familiar_every"`
	// FamiliarBuff is shown while a familiar is summoned.
	FamiliarBuff string `mapstructure:"familiar_buff"`
	// ResetNormalOnErda restarts the normal rotation whenever an off_cooldown
	// action is queued.
	ResetNormalOnErda bool `mapstructure:"reset_normal_on_erda"`
	// Actions maps remote action kinds to keys.
	Actions map[string]string `mapstructure:"actions"`
}

// LimitsConfig holds retry bounds and movement recovery limits.
type LimitsConfig struct {
	NavigationAttempts int           `mapstructure:"navigation_attempts"`
	NavigationConfirm  time.Duration `mapstructure:"navigation_confirm"`
	PanicChannels      int           `mapstructure:"panic_channels"`
	MoveTimeoutTicks   int           `mapstructure:"move_timeout_ticks"`
	UnstuckThreshold   int           `mapstructure:"unstuck_threshold"`
	MaxUnstucks        int           `mapstructure:"max_unstucks"`
	SettleTicks        int           `mapstructure:"settle_ticks"`
}

// AutoMobConfig holds auto-mobbing defaults applied to maps that omit them.
type AutoMobConfig struct {
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	DetectInterval time.Duration `mapstructure:"detect_interval"`
}

// PanicConfig holds the stranger response settings.
type PanicConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Delay   time.Duration `mapstructure:"delay"`
	// Affiliations that count as a threat: "stranger", "guildmate", "friend".
	Affiliations []string `mapstructure:"affiliations"`
	// EliteChangeChannel cycles channel on an elite boss instead of
	// pressing the interact key.
	EliteChangeChannel bool `mapstructure:"elite_change_channel"`
}

// ContentConfig holds the content directories.
type ContentConfig struct {
	MapsDir       string `mapstructure:"maps_dir"`
	NavigationDir string `mapstructure:"navigation_dir"`
	ScriptsDir    string `mapstructure:"scripts_dir"`
	// InstructionLimit bounds one scripted condition call.
	InstructionLimit int  `mapstructure:"instruction_limit"`
	Watch            bool `mapstructure:"watch"`
	// Debounce coalesces bursts of file events into one reload.
	Debounce time.Duration `mapstructure:"debounce"`
	// Replay is a recorded perception stream fed to the scheduler.
	Replay string `mapstructure:"replay"`
}

// NotificationsConfig holds the event fan-out settings.
type NotificationsConfig struct {
	// Buffer is the capacity of each subscriber channel.
	Buffer int `mapstructure:"buffer"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Character     CharacterConfig     `mapstructure:"character"`
	Limits        LimitsConfig        `mapstructure:"limits"`
	AutoMob       AutoMobConfig       `mapstructure:"auto_mob"`
	Panic         PanicConfig         `mapstructure:"panic"`
	Content       ContentConfig       `mapstructure:"content"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateLogging(c.Logging),
		validateScheduler(c.Scheduler),
		validateCharacter(c.Character),
		validateLimits(c.Limits),
		validateAutoMob(c.AutoMob),
		validatePanic(c.Panic),
		validateContent(c.Content),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Notifications.Buffer < 1 {
		errs = append(errs, fmt.Sprintf("notifications.buffer must be >= 1, got %d", c.Notifications.Buffer))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	for name, level := range l.Components {
		if !validLevels[level] {
			return fmt.Errorf("logging.components.%s must be one of [debug, info, warn, error], got %q", name, level)
		}
	}
	return nil
}

func validateScheduler(s SchedulerConfig) error {
	var errs []string
	if s.TickInterval <= 0 {
		errs = append(errs, "scheduler.tick_interval must be positive")
	}
	if s.StaleAfter < s.TickInterval {
		errs = append(errs, fmt.Sprintf("scheduler.stale_after must be >= tick_interval, got %s", s.StaleAfter))
	}
	if s.CommandBuffer < 1 {
		errs = append(errs, fmt.Sprintf("scheduler.command_buffer must be >= 1, got %d", s.CommandBuffer))
	}
	if s.Map == "" {
		errs = append(errs, "scheduler.map must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateCharacter(c CharacterConfig) error {
	var errs []string
	k := c.Keys
	for name, key := range map[string]string{"left": k.Left, "right": k.Right, "jump": k.Jump} {
		if key == "" {
			errs = append(errs, fmt.Sprintf("character.keys.%s must not be empty", name))
		}
	}
	for name, d := range map[string]time.Duration{
		"tap_hold": c.TapHold, "link_key_delay": c.LinkKeyDelay, "link_along_delay": c.LinkAlongDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("character.%s must not be negative", name))
		}
	}
	for i, b := range c.Buffs {
		if b.Name == "" || b.Key == "" {
			errs = append(errs, fmt.Sprintf("character.buffs[%d] requires a name and a key", i))
		}
	}
	for kind, key := range c.Actions {
		if key == "" {
			errs = append(errs, fmt.Sprintf("character.actions.%s must not be empty", kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLimits(l LimitsConfig) error {
	var errs []string
	for name, n := range map[string]int{
		"navigation_attempts": l.NavigationAttempts,
		"panic_channels":      l.PanicChannels,
		"move_timeout_ticks":  l.MoveTimeoutTicks,
		"unstuck_threshold":   l.UnstuckThreshold,
		"max_unstucks":        l.MaxUnstucks,
	} {
		if n < 1 {
			errs = append(errs, fmt.Sprintf("limits.%s must be >= 1, got %d", name, n))
		}
	}
	if l.SettleTicks < 0 {
		errs = append(errs, "limits.settle_ticks must not be negative")
	}
	if l.NavigationConfirm <= 0 {
		errs = append(errs, "limits.navigation_confirm must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAutoMob(a AutoMobConfig) error {
	if a.GracePeriod < 0 || a.DetectInterval < 0 {
		return errors.New("auto_mob intervals must not be negative")
	}
	return nil
}

func validatePanic(p PanicConfig) error {
	var errs []string
	if p.Delay < 0 {
		errs = append(errs, "panic.delay must not be negative")
	}
	valid := map[string]bool{"stranger": true, "guildmate": true, "friend": true}
	for _, a := range p.Affiliations {
		if !valid[a] {
			errs = append(errs, fmt.Sprintf("panic.affiliations must be one of [stranger, guildmate, friend], got %q", a))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateContent(c ContentConfig) error {
	var errs []string
	if c.MapsDir == "" {
		errs = append(errs, "content.maps_dir must not be empty")
	}
	if c.InstructionLimit < 0 {
		errs = append(errs, "content.instruction_limit must not be negative")
	}
	if c.Debounce < 0 {
		errs = append(errs, "content.debounce must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ROTATOR_ prefix
	v.SetEnvPrefix("ROTATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only the defaults.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.tick_interval", "33ms")
	v.SetDefault("scheduler.stale_after", "500ms")
	v.SetDefault("scheduler.command_buffer", 16)
	v.SetDefault("scheduler.map", "hunting_ground")
	v.SetDefault("scheduler.autostart", false)

	v.SetDefault("character.keys.left", "left")
	v.SetDefault("character.keys.right", "right")
	v.SetDefault("character.keys.up", "up")
	v.SetDefault("character.keys.down", "down")
	v.SetDefault("character.keys.jump", "alt")
	v.SetDefault("character.keys.escape", "esc")
	v.SetDefault("character.keys.interact", "space")
	v.SetDefault("character.tap_hold", "30ms")
	v.SetDefault("character.link_key_delay", "60ms")
	v.SetDefault("character.link_along_delay", "40ms")
	v.SetDefault("character.rune_buff", "rune")
	v.SetDefault("character.familiar_every", "5m")
	v.SetDefault("character.familiar_buff", "familiar")
	v.SetDefault("character.reset_normal_on_erda", false)

	v.SetDefault("limits.navigation_attempts", 3)
	v.SetDefault("limits.navigation_confirm", "2s")
	v.SetDefault("limits.panic_channels", 3)
	v.SetDefault("limits.move_timeout_ticks", 5)
	v.SetDefault("limits.unstuck_threshold", 6)
	v.SetDefault("limits.max_unstucks", 3)
	v.SetDefault("limits.settle_ticks", 3)

	v.SetDefault("auto_mob.grace_period", "2s")
	v.SetDefault("auto_mob.detect_interval", "500ms")

	v.SetDefault("panic.enabled", false)
	v.SetDefault("panic.delay", "15s")
	v.SetDefault("panic.affiliations", []string{"stranger"})

	v.SetDefault("content.maps_dir", "content/maps")
	v.SetDefault("content.navigation_dir", "content/navigation")
	v.SetDefault("content.scripts_dir", "content/scripts")
	v.SetDefault("content.instruction_limit", 10000)
	v.SetDefault("content.watch", true)
	v.SetDefault("content.debounce", "200ms")

	v.SetDefault("notifications.buffer", 64)
}
