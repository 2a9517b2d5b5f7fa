package engine

import (
	"github.com/cory-johannsen/rotator/internal/config"
	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/executor"
	"github.com/cory-johannsen/rotator/internal/game/gamemap"
	"github.com/cory-johannsen/rotator/internal/game/movement"
	"github.com/cory-johannsen/rotator/internal/game/navigation"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/priority"
	"github.com/cory-johannsen/rotator/internal/game/scheduler"
)

// Bindings collects every key name the character has bound.
func Bindings(c config.CharacterConfig) action.Bindings {
	k := c.Keys
	b := action.Bindings{}
	for _, key := range []string{
		k.Left, k.Right, k.Up, k.Down, k.Jump, k.UpJump, k.Grapple, k.Teleport, k.Escape,
		k.Interact, k.ChangeChannel, k.ReturnToTown, k.Booster, k.HexaBooster, k.Familiar, k.Essence,
	} {
		if key != "" {
			b[key] = true
		}
	}
	for _, key := range k.Skills {
		b[key] = true
	}
	for _, buff := range c.Buffs {
		b[buff.Key] = true
	}
	for _, key := range c.Actions {
		b[key] = true
	}
	return b
}

// MovementConfig builds the movement tuning shared by every mover.
func MovementConfig(cfg config.Config) movement.Config {
	k := cfg.Character.Keys
	mc := movement.DefaultConfig(movement.Keys{
		Left:     k.Left,
		Right:    k.Right,
		Up:       k.Up,
		Down:     k.Down,
		Jump:     k.Jump,
		UpJump:   k.UpJump,
		Grapple:  k.Grapple,
		Teleport: k.Teleport,
		Escape:   k.Escape,
	})
	mc.DisableWalking = cfg.Character.DisableWalking
	mc.DisableDoubleJump = cfg.Character.DisableDoubleJump
	mc.MoveTimeoutTicks = cfg.Limits.MoveTimeoutTicks
	mc.UnstuckThreshold = cfg.Limits.UnstuckThreshold
	mc.MaxUnstucks = cfg.Limits.MaxUnstucks
	mc.SettleTicks = cfg.Limits.SettleTicks
	mc.TapHold = cfg.Character.TapHold
	return mc
}

// ExecutorConfig builds the executor key timing.
func ExecutorConfig(cfg config.Config) executor.Config {
	return executor.Config{
		LinkKeyDelay:   cfg.Character.LinkKeyDelay,
		LinkAlongDelay: cfg.Character.LinkAlongDelay,
		TapHold:        cfg.Character.TapHold,
		DetectInterval: cfg.AutoMob.DetectInterval,
	}
}

// NavigationConfig builds the portal walker tuning.
func NavigationConfig(cfg config.Config) navigation.Config {
	return navigation.Config{
		PortalKey:     cfg.Character.Keys.Up,
		Attempts:      cfg.Limits.NavigationAttempts,
		ConfirmWithin: cfg.Limits.NavigationConfirm,
	}
}

// SchedulerConfig builds the scheduler tuning.
func SchedulerConfig(cfg config.Config) scheduler.Config {
	actions := make(map[string]string, len(cfg.Character.Actions))
	for kind, key := range cfg.Character.Actions {
		actions[kind] = key
	}
	return scheduler.Config{
		StaleAfter:        cfg.Scheduler.StaleAfter,
		ReturnToTownKey:   cfg.Character.Keys.ReturnToTown,
		Actions:           actions,
		CommandBuffer:     cfg.Scheduler.CommandBuffer,
		ResetNormalOnErda: cfg.Character.ResetNormalOnErda,
	}
}

// MapDefaults are the auto-mobbing values applied to maps that omit them.
func MapDefaults(cfg config.Config) gamemap.Defaults {
	return gamemap.Defaults{
		GracePeriod:    cfg.AutoMob.GracePeriod,
		DetectInterval: cfg.AutoMob.DetectInterval,
	}
}

// Builtins enables the system triggers whose keys are bound.
func Builtins(cfg config.Config) priority.Builtins {
	c := cfg.Character
	k := c.Keys
	var b priority.Builtins
	for _, buff := range c.Buffs {
		b.Buffs = append(b.Buffs, priority.BuffConfig{
			Name:          buff.Name,
			Key:           buff.Key,
			ExclusiveWith: append([]string(nil), buff.ExclusiveWith...),
		})
	}
	if k.Interact != "" {
		b.Rune = &priority.RuneConfig{Key: k.Interact, Buff: c.RuneBuff}
	}
	if k.Booster != "" && c.BoosterBuff != "" {
		b.Booster = &priority.BoosterConfig{Key: k.Booster, Buff: c.BoosterBuff}
	}
	if k.HexaBooster != "" && c.HexaBoosterBuff != "" {
		b.HexaBooster = &priority.BoosterConfig{Key: k.HexaBooster, Buff: c.HexaBoosterBuff}
	}
	if k.Familiar != "" {
		b.Familiar = &priority.FamiliarConfig{Key: k.Familiar, Every: c.FamiliarEvery}
	}
	if k.Essence != "" && c.FamiliarBuff != "" {
		b.Essence = &priority.EssenceConfig{Key: k.Essence, FamiliarBuff: c.FamiliarBuff}
	}
	if k.Escape != "" {
		b.Unstuck = &priority.UnstuckConfig{Key: k.Escape}
	}
	if cfg.Panic.Enabled && k.ChangeChannel != "" {
		p := &priority.PanicConfig{Key: k.ChangeChannel, Delay: cfg.Panic.Delay}
		for _, a := range cfg.Panic.Affiliations {
			p.Affiliations = append(p.Affiliations, perception.Affiliation(a))
		}
		b.Panic = p
	}
	switch {
	case cfg.Panic.EliteChangeChannel && k.ChangeChannel != "":
		b.Elite = &priority.EliteConfig{Key: k.ChangeChannel, ChangeChannel: true}
	case k.Interact != "":
		b.Elite = &priority.EliteConfig{Key: k.Interact}
	}
	return b
}
