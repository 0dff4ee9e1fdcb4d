package policy

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/trimlightd/internal/effect"
)

// ScriptFunction is the global the script must define. It receives the
// effect as a table and returns a category number or nil.
const ScriptFunction = "infer_category"

// Script delegates category inference to a Lua function.
//
// A single LState is shared, so calls are serialized with a mutex.
type Script struct {
	mu sync.Mutex
	L  *lua.LState
	fn *lua.LFunction
}

// LoadScript compiles the file at path and resolves infer_category.
func LoadScript(path string) (*Script, error) {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute category script: %w", err)
	}
	return newScript(L)
}

// LoadScriptString is LoadScript for inline source.
func LoadScriptString(src string) (*Script, error) {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute category script: %w", err)
	}
	return newScript(L)
}

func newScript(L *lua.LState) (*Script, error) {
	fn, ok := L.GetGlobal(ScriptFunction).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("category script does not define function %q", ScriptFunction)
	}
	log.Info().Str("function", ScriptFunction).Msg("Category script loaded")
	return &Script{L: L, fn: fn}, nil
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.L.Close()
}

// InferCategory implements CategoryPolicy. Script errors are logged and
// treated as "no opinion".
func (s *Script) InferCategory(e effect.Effect) (effect.Category, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := effectToTable(s.L, e)
	if err := s.L.CallByParam(lua.P{Fn: s.fn, NRet: 1, Protect: true}, tbl); err != nil {
		log.Warn().Err(err).Msg("Category script failed")
		return 0, false
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)

	num, ok := ret.(lua.LNumber)
	if !ok {
		return 0, false
	}
	cat := effect.Category(int(num))
	switch cat {
	case effect.CategoryBuiltin, effect.CategoryTransient, effect.CategoryCustom:
		return cat, true
	default:
		log.Warn().Int("category", int(cat)).Msg("Category script returned unknown category")
		return 0, false
	}
}

func effectToTable(L *lua.LState, e effect.Effect) *lua.LTable {
	tbl := L.NewTable()
	setInt := func(key string, v *int) {
		if v != nil {
			tbl.RawSetString(key, lua.LNumber(*v))
		}
	}
	setInt("id", e.ID)
	setInt("mode", e.Mode)
	setInt("speed", e.Speed)
	setInt("brightness", e.Brightness)
	setInt("pixelLen", e.PixelLen)
	if mode, ok := effect.DeriveMode(e); ok {
		tbl.RawSetString("derived_mode", lua.LNumber(mode))
	}
	if e.Name != "" {
		tbl.RawSetString("name", lua.LString(e.Name))
	}
	if e.Reverse != nil {
		tbl.RawSetString("reverse", lua.LBool(*e.Reverse))
	}
	tbl.RawSetString("has_pixels", lua.LBool(e.Pixels != nil))
	return tbl
}

// logLoader exposes a minimal log module so scripts can explain decisions.
func logLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(func(L *lua.LState) int {
		log.Debug().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "info", L.NewFunction(func(L *lua.LState) int {
		log.Info().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "warn", L.NewFunction(func(L *lua.LState) int {
		log.Warn().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.Push(mod)
	return 1
}
