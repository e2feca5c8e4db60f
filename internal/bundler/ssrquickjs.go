package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/buke/quickjs-go"

	"github.com/alliancesoftware/apfrontend/internal/logging"
)

const quickjsPolyfills = `
	var globalThis = this;
	var window = this;
	var self = this;
	var process = { env: { NODE_ENV: 'production' } };
	var console = console || { log: function(){}, warn: function(){}, error: function(){}, info: function(){}, debug: function(){} };
	var performance = performance || { now: function() { return Date.now(); } };
`

type jsRuntime struct {
	rt  *quickjs.Runtime
	ctx *quickjs.Context
}

// runtimePool bounds how many QuickJS runtimes exist at once. Runtimes
// are created per render and torn down on release; reusing a context
// across renders leaks globals between requests.
type runtimePool struct {
	sem    chan struct{}
	bundle string
}

func newRuntimePool(size int, bundle string) *runtimePool {
	if size < 1 {
		size = runtime.GOMAXPROCS(0) * 2
	}
	return &runtimePool{sem: make(chan struct{}, size), bundle: bundle}
}

func (p *runtimePool) acquire(ctx context.Context) (*jsRuntime, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	rt := quickjs.NewRuntime()
	rt.SetMaxStackSize(4 * 1024 * 1024)
	jsCtx := rt.NewContext()
	for _, source := range []string{quickjsPolyfills, p.bundle} {
		result := jsCtx.Eval(source)
		if result.IsException() {
			err := fmt.Errorf("quickjs eval: %s", jsCtx.Exception())
			result.Free()
			jsCtx.Close()
			rt.Close()
			<-p.sem
			return nil, err
		}
		result.Free()
	}
	return &jsRuntime{rt: rt, ctx: jsCtx}, nil
}

func (p *runtimePool) release(vm *jsRuntime) {
	if vm != nil {
		vm.ctx.Close()
		vm.rt.Close()
	}
	select {
	case <-p.sem:
	default:
	}
}

// QuickJSSSREngine renders SSR requests in process against a built
// server bundle instead of POSTing to a render service. The bundle must
// define a global renderItems function taking the request object and
// returning the response object, the same contract the HTTP render
// server implements.
type QuickJSSSREngine struct {
	bundlePath string
	poolSize   int
	logger     logging.Logger

	once sync.Once
	pool *runtimePool
	err  error
}

// NewQuickJSSSREngine returns an engine over the bundle at bundlePath.
// poolSize 0 defaults to twice GOMAXPROCS. The bundle is read lazily on
// first render so construction works before a build exists.
func NewQuickJSSSREngine(bundlePath string, poolSize int, logger logging.Logger) *QuickJSSSREngine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &QuickJSSSREngine{
		bundlePath: bundlePath,
		poolSize:   poolSize,
		logger:     logger.WithComponent("quickjs"),
	}
}

func (e *QuickJSSSREngine) init() (*runtimePool, error) {
	e.once.Do(func() {
		bundle, err := os.ReadFile(e.bundlePath)
		if err != nil {
			e.err = fmt.Errorf("failed to read SSR bundle: %w", err)
			return
		}
		e.pool = newRuntimePool(e.poolSize, string(bundle))
	})
	return e.pool, e.err
}

func (e *QuickJSSSREngine) Render(ctx context.Context, req *ServerRenderRequest) (*ServerRenderResponse, error) {
	pool, err := e.init()
	if err != nil {
		return nil, err
	}
	vm, err := pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer pool.release(vm)

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	code := fmt.Sprintf(`
		(function() {
			var render = globalThis.renderItems || renderItems;
			return JSON.stringify(render(%s));
		})()
	`, string(reqJSON))
	result := vm.ctx.Eval(code)
	defer result.Free()
	if result.IsException() {
		return nil, fmt.Errorf("SSR render: %s", vm.ctx.Exception())
	}
	if !result.IsString() {
		return nil, fmt.Errorf("expected string result from renderItems, got %s", result.String())
	}
	var out ServerRenderResponse
	if err := json.Unmarshal([]byte(result.String()), &out); err != nil {
		return nil, fmt.Errorf("failed to decode renderItems response: %w", err)
	}
	return &out, nil
}
