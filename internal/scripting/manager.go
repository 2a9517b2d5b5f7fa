package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/random"
)

// globalMap is the reserved key for shared scripts loaded via LoadGlobal.
// CallHook falls back to this VM when no map VM is found.
const globalMap = "__global__"

// ErrHookUndefined reports a scripted condition whose hook is not defined in
// any loaded VM.
var ErrHookUndefined = errors.New("script hook undefined")

type vm struct {
	L     *lua.LState
	limit int
}

// Manager owns one sandboxed LState per map plus an optional global VM and
// evaluates condition hooks against perception snapshots.
//
// Manager is safe for concurrent use. Each LState is single-threaded, so
// calls are serialized.
type Manager struct {
	mu      sync.Mutex
	states  map[string]*vm
	current string
	src     random.Source
	logger  *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: src and logger must be non-nil.
// Postcondition: Returns a non-nil Manager with no VM loaded.
func NewManager(src random.Source, logger *zap.Logger) *Manager {
	if src == nil {
		panic("scripting.NewManager: src must be non-nil")
	}
	if logger == nil {
		panic("scripting.NewManager: logger must be non-nil")
	}
	return &Manager{
		states: make(map[string]*vm),
		src:    src,
		logger: logger,
	}
}

// LoadMap creates a sandboxed VM for mapName, registers the rotator module,
// then executes every *.lua file in scriptDir in lexicographic order.
//
// Precondition: mapName must be non-empty; scriptDir must be a readable directory.
// Postcondition: The map VM is registered; returns error on Lua load failure.
func (m *Manager) LoadMap(mapName, scriptDir string, instLimit int) error {
	return m.loadInto(mapName, scriptDir, instLimit)
}

// LoadGlobal creates the "__global__" VM used as a CallHook fallback from
// any map.
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: The global VM is registered; returns error on Lua load failure.
func (m *Manager) LoadGlobal(scriptDir string, instLimit int) error {
	return m.loadInto(globalMap, scriptDir, instLimit)
}

func (m *Manager) loadInto(key, scriptDir string, instLimit int) error {
	L := NewSandboxedState(instLimit)
	m.RegisterModules(L)

	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, key, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		cancel := budget(L, instLimit)
		err := L.DoFile(path)
		cancel()
		if err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, key, err)
		}
	}

	m.mu.Lock()
	if old, ok := m.states[key]; ok {
		old.L.Close()
	}
	m.states[key] = &vm{L: L, limit: instLimit}
	m.mu.Unlock()
	m.logger.Info("scripts loaded", zap.String("map", key), zap.Int("files", len(luaFiles)))
	return nil
}

// SetMap selects the map whose VM Ready consults.
func (m *Manager) SetMap(mapName string) {
	m.mu.Lock()
	m.current = mapName
	m.mu.Unlock()
}

// lookup returns the VM of mapName or the global VM.
//
// Precondition: m.mu is held.
func (m *Manager) lookup(mapName string) *vm {
	if v, ok := m.states[mapName]; ok {
		return v
	}
	return m.states[globalMap]
}

// Defined reports whether hook is a function in the VM of mapName or in the
// global VM.
func (m *Manager) Defined(mapName, hook string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.lookup(mapName)
	return v != nil && v.L.GetGlobal(hook).Type() == lua.LTFunction
}

// CallHook calls the named Lua global function in mapName's VM. If the map
// has no VM, the __global__ VM is tried as a fallback. Returns (LNil, nil) if
// the hook is not defined or no VM exists. Lua runtime errors, including an
// exhausted instruction budget, are logged at Warn level and never propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(mapName, hook string, args ...lua.LValue) (lua.LValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.call(mapName, hook, func(*lua.LState) []lua.LValue { return args })
}

// call runs hook with the arguments built by argv.
//
// Precondition: m.mu is held.
func (m *Manager) call(mapName, hook string, argv func(*lua.LState) []lua.LValue) (lua.LValue, error) {
	v := m.lookup(mapName)
	if v == nil {
		m.logger.Info("scripting: no VM for map",
			zap.String("map", mapName),
			zap.String("hook", hook),
		)
		return lua.LNil, nil
	}

	fn := v.L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}

	cancel := budget(v.L, v.limit)
	defer cancel()
	if err := v.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, argv(v.L)...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("map", mapName),
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil, nil
	}

	ret := v.L.Get(-1)
	v.L.Pop(1)
	return ret, nil
}

// Ready evaluates hook against snap in the VM of the selected map. The hook
// receives the snapshot as a table; a truthy return means ready.
//
// Postcondition: returns an error wrapping ErrHookUndefined when no loaded
// VM defines hook.
func (m *Manager) Ready(hook string, snap *perception.Snapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.lookup(m.current)
	if v == nil || v.L.GetGlobal(hook).Type() != lua.LTFunction {
		return false, fmt.Errorf("scripting: %q in map %q: %w", hook, m.current, ErrHookUndefined)
	}
	ret, err := m.call(m.current, hook, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{SnapshotToTable(L, snap)}
	})
	if err != nil {
		return false, err
	}
	return lua.LVAsBool(ret), nil
}

// Close releases every VM.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, v := range m.states {
		v.L.Close()
		delete(m.states, key)
	}
}
