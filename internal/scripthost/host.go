package scripthost

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/amosweiskopf/sws/internal/errs"
	"github.com/amosweiskopf/sws/internal/htmldoc"
)

// Host is one gopher-lua interpreter, owned exclusively by one crawler
// worker. No interpreter is shared across goroutines; selector
// compilation caches (inside htmldoc) are per-call, not per-Host.
type Host struct {
	L         *lua.LState
	WorkerID  int
	scrapPage *lua.LFunction
	acceptURL *lua.LFunction // nil if the script doesn't define one
}

// New builds an interpreter for workerID and installs the sws
// namespace, but does not yet load a script.
func New(workerID int) *Host {
	L := lua.NewState()
	registerBindings(L)
	return &Host{L: L, WorkerID: workerID}
}

// Close releases the interpreter's resources.
func (h *Host) Close() {
	h.L.Close()
}

// LoadScript executes the user script once, per spec §4.3 step 2,
// populating its globals. scrapPage is required; acceptUrl is
// optional. Script load failure is always fatal.
func (h *Host) LoadScript(path string) error {
	if err := h.L.DoFile(path); err != nil {
		return &errs.ScriptError{Where: "load", Err: err}
	}
	return h.bindCallbacks()
}

// LoadScriptString behaves like LoadScript but takes the script body
// directly, for callers (such as tests) that don't have it on disk.
func (h *Host) LoadScriptString(script string) error {
	if err := h.L.DoString(script); err != nil {
		return &errs.ScriptError{Where: "load", Err: err}
	}
	return h.bindCallbacks()
}

func (h *Host) bindCallbacks() error {
	fn, ok := h.L.GetGlobal("scrapPage").(*lua.LFunction)
	if !ok {
		return &errs.ScriptError{Where: "load", Err: fmt.Errorf("script must define a scrapPage function")}
	}
	h.scrapPage = fn

	if accept, ok := h.L.GetGlobal("acceptUrl").(*lua.LFunction); ok {
		h.acceptURL = accept
	}
	return nil
}

// ScrapPage invokes the cached scrapPage function on doc. Per spec
// §4.3 and §9, the Html and ScrapingContext handles passed to the
// script are invalid once this call returns: their userdata
// metatables are cleared so any reference the script squirreled away
// into a global table raises a script-visible error on next use
// instead of reaching stale Go state.
func (h *Host) ScrapPage(doc *htmldoc.Document, ctx *ScrapingContext) error {
	htmlUD := newUserData(h.L, htmlTypeName, doc)
	ctxUD := newUserData(h.L, scrapingContextTypeName, ctx)
	defer func() {
		htmlUD.Metatable = lua.LNil
		ctxUD.Metatable = lua.LNil
	}()

	if err := h.L.CallByParam(lua.P{
		Fn:      h.scrapPage,
		NRet:    0,
		Protect: true,
	}, htmlUD, ctxUD); err != nil {
		return &errs.ScriptError{Where: "scrapPage", Err: err}
	}
	return nil
}

// AcceptURL invokes the optional acceptUrl function. Absent acceptUrl
// accepts every URL, per spec §4.3. Any non-boolean truthy Lua return
// value is treated as accepting the URL; only nil/false reject.
func (h *Host) AcceptURL(url string, ctx *CrawlingContext) (bool, error) {
	if h.acceptURL == nil {
		return true, nil
	}

	ctxUD := newUserData(h.L, crawlingContextTypeName, ctx)

	if err := h.L.CallByParam(lua.P{
		Fn:      h.acceptURL,
		NRet:    1,
		Protect: true,
	}, lua.LString(url), ctxUD); err != nil {
		return false, &errs.ScriptError{Where: "acceptUrl", Err: err}
	}

	ret := h.L.Get(-1)
	h.L.Pop(1)
	return lua.LVAsBool(ret), nil
}
