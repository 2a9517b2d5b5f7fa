package scripting

import (
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/random"
)

// RegisterModules registers the rotator.* Lua tables into L:
//
//	rotator.log.debug|info|warn|error(msg)
//	rotator.random(lo, hi)             uniform integer in [lo, hi]
//	rotator.distance(ax, ay, bx, by)   euclidean distance
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: the rotator global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState) {
	rotator := L.NewTable()

	log := L.NewTable()
	for name, fn := range map[string]func(string, ...zap.Field){
		"debug": m.logger.Debug,
		"info":  m.logger.Info,
		"warn":  m.logger.Warn,
		"error": m.logger.Error,
	} {
		write := fn
		L.SetField(log, name, L.NewFunction(func(L *lua.LState) int {
			write(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}))
	}
	L.SetField(rotator, "log", log)

	L.SetField(rotator, "random", L.NewFunction(func(L *lua.LState) int {
		lo, hi := L.CheckInt(1), L.CheckInt(2)
		L.Push(lua.LNumber(random.Between(m.src, lo, hi)))
		return 1
	}))

	L.SetField(rotator, "distance", L.NewFunction(func(L *lua.LState) int {
		dx := float64(L.CheckNumber(3) - L.CheckNumber(1))
		dy := float64(L.CheckNumber(4) - L.CheckNumber(2))
		L.Push(lua.LNumber(math.Hypot(dx, dy)))
		return 1
	}))

	L.SetGlobal("rotator", rotator)
}

func pointToTable(L *lua.LState, p geom.Point) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "x", lua.LNumber(p.X))
	L.SetField(t, "y", lua.LNumber(p.Y))
	return t
}

func flagsToTable(L *lua.LState, flags map[string]bool) *lua.LTable {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	t := L.NewTable()
	for _, name := range names {
		L.SetField(t, name, lua.LBool(flags[name]))
	}
	return t
}

// SnapshotToTable converts snap into the table passed to condition hooks:
//
//	{ frame, player = {x, y} | nil, mobs = {{x, y}, ...}, buffs = {name = bool},
//	  skills = {name = bool}, players = {stranger = n, friend = n, guildmate = n},
//	  minimap = {identity, confidence}, rune = {x, y} | nil, elite_boss, dead,
//	  can = {double_jump, teleport, grapple, up_jump} }
//
// A nil snap yields an empty table.
func SnapshotToTable(L *lua.LState, snap *perception.Snapshot) *lua.LTable {
	t := L.NewTable()
	if snap == nil {
		return t
	}
	L.SetField(t, "frame", lua.LNumber(snap.Frame))
	if snap.Player != nil {
		L.SetField(t, "player", pointToTable(L, *snap.Player))
	}
	mobs := L.NewTable()
	for _, mob := range snap.Mobs {
		mobs.Append(pointToTable(L, mob))
	}
	L.SetField(t, "mobs", mobs)
	L.SetField(t, "buffs", flagsToTable(L, snap.Buffs))
	L.SetField(t, "skills", flagsToTable(L, snap.Skills))

	players := L.NewTable()
	for _, a := range []perception.Affiliation{
		perception.AffiliationStranger, perception.AffiliationFriend, perception.AffiliationGuildmate,
	} {
		L.SetField(players, string(a), lua.LNumber(snap.PlayersSeen(a)))
	}
	L.SetField(t, "players", players)

	minimap := L.NewTable()
	L.SetField(minimap, "identity", lua.LString(snap.MinimapIdentity))
	L.SetField(minimap, "confidence", lua.LNumber(snap.MinimapConfidence))
	L.SetField(t, "minimap", minimap)

	if snap.Rune != nil {
		L.SetField(t, "rune", pointToTable(L, *snap.Rune))
	}
	L.SetField(t, "elite_boss", lua.LBool(snap.EliteBoss))
	L.SetField(t, "dead", lua.LBool(snap.Dead))
	L.SetField(t, "esc_menu", lua.LBool(snap.EscMenu))
	L.SetField(t, "essence_depleted", lua.LBool(snap.EssenceDepleted))

	can := L.NewTable()
	L.SetField(can, "double_jump", lua.LBool(snap.Capabilities.CanDoubleJump))
	L.SetField(can, "teleport", lua.LBool(snap.Capabilities.CanTeleport))
	L.SetField(can, "grapple", lua.LBool(snap.Capabilities.CanGrapple))
	L.SetField(can, "up_jump", lua.LBool(snap.Capabilities.CanUpJump))
	L.SetField(t, "can", can)
	return t
}
