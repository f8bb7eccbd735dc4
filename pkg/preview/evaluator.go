package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultSettleDelay = 800 * time.Millisecond
	DefaultTimeout     = 5 * time.Second
)

// Libraries names what snippets can use without importing it.
var Libraries = []string{
	"React and its hooks",
	"Recharts components",
	"framer-motion (motion, AnimatePresence)",
	"lucide-react icons",
}

// Result is the outcome of one preview evaluation.
type Result struct {
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Renders    int         `json:"renders,omitempty"`
	HostNodes  int         `json:"hostNodes,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

func failure(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Previewer renders code asynchronously and reports exactly once.
type Previewer interface {
	Submit(ctx context.Context, code string, cb func(Result))
}

// Evaluator renders component snippets in disposable sandboxes.
type Evaluator struct {
	settle     time.Duration
	timeout    time.Duration
	strategies []Strategy
	logger     zerolog.Logger
	sem        *semaphore.Weighted
}

var _ Previewer = (*Evaluator)(nil)

type Option func(*Evaluator)

// WithSettleDelay sets the wait between mount and sampling.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Evaluator) {
		if d >= 0 {
			e.settle = d
		}
	}
}

// WithTimeout bounds each synchronous step of an evaluation.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithStrategies(strategies ...Strategy) Option {
	return func(e *Evaluator) {
		if len(strategies) > 0 {
			e.strategies = strategies
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// WithConcurrency limits how many evaluations run at once.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		settle:     DefaultSettleDelay,
		timeout:    DefaultTimeout,
		strategies: DefaultStrategies(),
		logger:     log.Logger,
		sem:        semaphore.NewWeighted(int64(runtime.NumCPU())),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Submit renders code in the background and calls cb exactly once.
func (e *Evaluator) Submit(ctx context.Context, code string, cb func(Result)) {
	var once sync.Once
	report := func(r Result) { once.Do(func() { cb(r) }) }
	go func() {
		defer func() {
			if r := recover(); r != nil {
				report(failure(fmt.Sprintf("Preview failed: %v", r)))
			}
		}()
		report(e.Render(ctx, code))
	}()
}

// Render evaluates code and waits for the settle delay before sampling the
// outcome. It never returns an error; failures are described in the result.
func (e *Evaluator) Render(ctx context.Context, code string) Result {
	start := time.Now()
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return failure("Preview cancelled: " + err.Error())
	}
	defer e.sem.Release(1)

	res := e.render(ctx, code)
	res.DurationMs = time.Since(start).Milliseconds()

	ev := e.logger.Debug().Bool("success", res.Success).Int64("durationMs", res.DurationMs)
	if res.Resolution != nil {
		ev = ev.Str("strategy", res.Resolution.Strategy).Str("component", res.Resolution.Component)
	}
	if !res.Success {
		ev = ev.Str("error", res.Error)
	}
	ev.Msg("preview evaluated")
	return res
}

type sample struct {
	SelfRendered bool     `json:"selfRendered"`
	Mounted      bool     `json:"mounted"`
	Errors       []string `json:"errors"`
	Renders      int      `json:"renders"`
	HostNodes    int      `json:"hostNodes"`
}

func (e *Evaluator) render(ctx context.Context, code string) Result {
	if strings.TrimSpace(code) == "" {
		return failure("No code to preview.")
	}

	src := Rewrite(code)
	compiled, err := Compile(src)
	if err != nil {
		return failure(err.Error())
	}
	decls := TopLevelDeclarations(ctx, src.Code)

	sb, err := newSandbox(ctx, e.timeout, e.logger)
	if err != nil {
		return failure("Preview runtime error: " + err.Error())
	}
	defer sb.Close()

	var baseline map[string]bool
	err = sb.do(ctx, func(vm *goja.Runtime) error {
		if len(src.Imports) > 0 {
			if err := callBridge(vm, "bindImports", vm.ToValue(src.Imports)); err != nil {
				return err
			}
		}
		var err error
		baseline, err = globalNames(vm)
		return err
	})
	if err != nil {
		return failure("Preview runtime error: " + errorMessage(err))
	}

	err = sb.do(ctx, func(vm *goja.Runtime) error {
		_, err := vm.RunScript("component.js", compiled)
		return err
	})
	if err != nil {
		return failure(errorMessage(err))
	}

	var resolution Resolution
	var found bool
	err = sb.do(ctx, func(vm *goja.Runtime) error {
		scope := &vmScope{vm: vm, src: src, decls: decls, baseline: baseline}
		resolution, found = Resolve(scope, e.strategies)
		if !found || resolution.SelfRendered {
			return nil
		}
		_, err := vm.RunString("__codeact.mount(" + resolution.Component + ")")
		return err
	})
	if err != nil {
		return failure(errorMessage(err))
	}
	if !found {
		return failure(NoComponentMessage)
	}

	timer := time.NewTimer(e.settle)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return failure("Preview cancelled: " + ctx.Err().Error())
	}

	var s sample
	err = sb.do(ctx, func(vm *goja.Runtime) error {
		v, err := vm.RunString("__codeact.sample()")
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(v.String()), &s)
	})
	if err != nil {
		return failure(errorMessage(err))
	}

	res := Result{Resolution: &resolution, Renders: s.Renders, HostNodes: s.HostNodes}
	if len(s.Errors) > 0 {
		res.Error = s.Errors[0]
		return res
	}
	res.Success = true
	return res
}

func callBridge(vm *goja.Runtime, method string, args ...goja.Value) error {
	bridge := vm.Get("__codeact")
	if bridge == nil {
		return errors.New("preview bridge is not installed")
	}
	fn, ok := goja.AssertFunction(bridge.ToObject(vm).Get(method))
	if !ok {
		return errors.Errorf("preview bridge has no %s", method)
	}
	_, err := fn(bridge, args...)
	return err
}

func globalNames(vm *goja.Runtime) (map[string]bool, error) {
	v, err := vm.RunString("JSON.stringify(Object.getOwnPropertyNames(globalThis))")
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(v.String()), &names); err != nil {
		return nil, err
	}
	ret := make(map[string]bool, len(names))
	for _, n := range names {
		ret[n] = true
	}
	return ret, nil
}

// vmScope answers strategy probes against a live runtime. It is only used on
// the loop goroutine.
type vmScope struct {
	vm       *goja.Runtime
	src      Source
	decls    []Declaration
	baseline map[string]bool
}

var _ Scope = (*vmScope)(nil)

func (s *vmScope) SelfRendered() bool {
	v, err := s.vm.RunString("__codeact.state.selfRendered")
	return err == nil && v.ToBoolean()
}

func (s *vmScope) Callable(name string) bool {
	if !reIdentifier.MatchString(name) {
		return false
	}
	v, err := s.vm.RunString(fmt.Sprintf(`__codeact.isComponent(typeof %[1]s === "undefined" ? undefined : %[1]s)`, name))
	return err == nil && v.ToBoolean()
}

func (s *vmScope) Source() Source { return s.src }

func (s *vmScope) Declarations() []Declaration { return s.decls }

func (s *vmScope) NewGlobals() []string {
	seen := map[string]bool{}
	var ret []string
	for _, d := range s.decls {
		if !seen[d.Name] && !s.baseline[d.Name] {
			seen[d.Name] = true
			ret = append(ret, d.Name)
		}
	}
	now, err := globalNames(s.vm)
	if err != nil {
		return ret
	}
	var extra []string
	for n := range now {
		if !s.baseline[n] && !seen[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(ret, extra...)
}
