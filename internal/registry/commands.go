package registry

import (
	"context"
	"time"

	"github.com/Guti2010/compute-server/internal/handlers"
	"github.com/Guti2010/compute-server/internal/progress"
	"github.com/Guti2010/compute-server/internal/resp"
)

// plain adapts a handler that ignores both ctx and progress, for the fast
// string/hash/file commands that never run long enough to need either.
func plain(fn func(map[string]string) resp.Result) Handler {
	return func(_ context.Context, params map[string]string, _ progress.Sink) resp.Result {
		return fn(params)
	}
}

// ctxAware adapts a handler that already honors ctx cancellation (the CPU
// and IO-bound handlers) but reports no progress of its own.
func ctxAware(fn func(context.Context, map[string]string) resp.Result) Handler {
	return func(ctx context.Context, params map[string]string, _ progress.Sink) resp.Result {
		return fn(ctx, params)
	}
}

// Defaults builds the command table shared by the synchronous dispatcher and
// the job manager, with the timeouts named in cfg. Commands not listed here
// (/, /help, /simulate, /loadtest, /metrics, /jobs/*) are meta-routes handled
// directly by the dispatcher because they orchestrate other commands rather
// than running one themselves.
func Defaults(cpuTimeout, ioTimeout time.Duration) *Registry {
	r := New()

	// Basic: fast, in-memory, never blocks meaningfully.
	r.Register("timestamp", Basic, time.Second, plain(func(p map[string]string) resp.Result { return handlers.Timestamp(p) }))
	r.Register("reverse", Basic, time.Second, plain(handlers.Reverse))
	r.Register("toupper", Basic, time.Second, plain(handlers.ToUpper))
	r.Register("hash", Basic, time.Second, plain(handlers.Hash))
	r.Register("random", Basic, time.Second, plain(handlers.Random))
	r.Register("fibonacci", Basic, time.Second, plain(handlers.Fibonacci))
	r.Register("createfile", Basic, 5*time.Second, plain(handlers.CreateFile))
	r.Register("deletefile", Basic, 5*time.Second, plain(handlers.DeleteFile))

	// Synthetic load generators: sleep models an IO wait, spin burns CPU.
	r.Register("sleep", IOBound, ioTimeout, plain(handlers.SleepTask))
	r.Register("spin", CPUBound, cpuTimeout, plain(handlers.SpinTask))

	// CPU-bound: all honor ctx cancellation internally.
	r.Register("isprime", CPUBound, cpuTimeout, ctxAware(handlers.IsPrimeJSONCtx))
	r.Register("factor", CPUBound, cpuTimeout, ctxAware(handlers.FactorJSONCtx))
	r.Register("pi", CPUBound, cpuTimeout, ctxAware(handlers.PiJSONCtx))
	r.Register("mandelbrot", CPUBound, cpuTimeout, ctxAware(handlers.MandelbrotJSONCtx))
	r.Register("matrixmul", CPUBound, cpuTimeout, ctxAware(handlers.MatrixMulHashCtx))

	// IO-bound: file and stream operations.
	r.Register("wordcount", IOBound, ioTimeout, ctxAware(handlers.WordCountJSONCtx))
	r.Register("grep", IOBound, ioTimeout, ctxAware(handlers.GrepJSONCtx))
	r.Register("hashfile", IOBound, ioTimeout, ctxAware(handlers.HashFileJSONCtx))
	r.Register("sortfile", IOBound, ioTimeout, ctxAware(handlers.SortFileJSONCtx))
	r.Register("compress", IOBound, ioTimeout, ctxAware(handlers.CompressJSONCtx))

	return r
}
