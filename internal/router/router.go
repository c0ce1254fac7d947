// Package router is the Dispatcher: it resolves an HTTP/1.0 request target
// into either a direct call through the command registry and the matching
// sched.Pool, or one of the /jobs/* operations against the async job
// manager. It is the one place that knows about every other subsystem.
package router

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Guti2010/compute-server/internal/apperr"
	"github.com/Guti2010/compute-server/internal/http10"
	"github.com/Guti2010/compute-server/internal/jobqueue"
	"github.com/Guti2010/compute-server/internal/jobs"
	"github.com/Guti2010/compute-server/internal/metrics"
	"github.com/Guti2010/compute-server/internal/progress"
	"github.com/Guti2010/compute-server/internal/registry"
	"github.com/Guti2010/compute-server/internal/resp"
	"github.com/Guti2010/compute-server/internal/sched"
)

// Dispatcher wires the registry, the three sched.Pools, the job manager, and
// the metrics collector together into one request router. Every dependency
// is injected so cmd/server and tests can each build their own.
type Dispatcher struct {
	reg       *registry.Registry
	pools     map[registry.Category]*sched.Pool
	jobman    *jobs.Manager
	collector *metrics.Collector
}

// New builds a Dispatcher. pools must have one entry per registry.Category
// the registry actually uses.
func New(reg *registry.Registry, pools map[registry.Category]*sched.Pool, jobman *jobs.Manager, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{reg: reg, pools: pools, jobman: jobman, collector: collector}
}

// Close releases the job manager's background goroutines. Pools are owned by
// the caller (cmd/server) since they may outlive a single Dispatcher in tests.
func (d *Dispatcher) Close() {
	if d.jobman != nil {
		d.jobman.Close()
	}
}

// Dispatch resolves one HTTP/1.0 request. GET is supported everywhere;
// DELETE only for /jobs/cancel, which needs no body and is driven by the
// same id= query param as its GET form.
func (d *Dispatcher) Dispatch(ctx context.Context, method, target string) resp.Result {
	path, q := http10.SplitTarget(target)
	args := http10.ParseQuery(q)

	switch method {
	case "GET":
	case "DELETE":
		if path == "/jobs/cancel" {
			return d.jobsCancel(args)
		}
		return resp.FromAppErr(apperr.New(apperr.KindBadRequest, "DELETE is only supported on /jobs/cancel"))
	default:
		return resp.FromAppErr(apperr.New(apperr.KindBadRequest, "only GET and DELETE are supported"))
	}

	switch path {
	case "/":
		return resp.PlainOK("hola mundo\n")
	case "/help":
		return d.help()
	case "/metrics":
		return resp.JSONOK(d.metricsJSON())
	case "/simulate":
		return d.simulate(ctx, args)
	case "/loadtest":
		return d.loadtest(ctx, args)

	case "/jobs/submit":
		return d.jobsSubmit(args)
	case "/jobs/status":
		return d.jobsStatus(args)
	case "/jobs/result":
		return d.jobsResult(args)
	case "/jobs/cancel":
		return d.jobsCancel(args)
	case "/jobs/list":
		return d.jobsList()
	}

	command := strings.TrimPrefix(path, "/")
	entry, ok := d.reg.Lookup(command)
	if !ok {
		return resp.FromAppErr(apperr.New(apperr.KindUnknownCommand, "no route for %s", path))
	}
	return d.runSync(ctx, entry, args)
}

func (d *Dispatcher) runSync(ctx context.Context, entry registry.Entry, args map[string]string) resp.Result {
	pool, ok := d.pools[entry.Category]
	if !ok {
		return resp.FromAppErr(apperr.New(apperr.KindServerError, "no pool wired for category %s", entry.Category))
	}
	return pool.Submit(ctx, entry.Name, entry.Timeout, func(runCtx context.Context) resp.Result {
		return entry.Fn(runCtx, args, progress.Noop)
	})
}

// simulate runs a single named synthetic load generator (sleep or spin)
// through its category's pool, for quick manual load shaping.
func (d *Dispatcher) simulate(ctx context.Context, args map[string]string) resp.Result {
	task := args["task"]
	entry, ok := d.reg.Lookup(task)
	if !ok || (task != "sleep" && task != "spin") {
		return resp.FromAppErr(apperr.New(apperr.KindBadRequest, "use task=sleep|spin"))
	}
	return d.runSync(ctx, entry, args)
}

// loadtest fires n sequential sleep submissions of the given duration and
// reports how many completed without error. Smoke-test route for exercising
// the io_bound pool under repeated load.
func (d *Dispatcher) loadtest(ctx context.Context, args map[string]string) resp.Result {
	n, errN := strconv.Atoi(args["tasks"])
	seconds, errS := strconv.Atoi(args["sleep"])
	if errN != nil || n <= 0 {
		return resp.FromAppErr(apperr.New(apperr.KindBadRequest, "tasks must be an integer > 0"))
	}
	if errS != nil || seconds < 0 {
		return resp.FromAppErr(apperr.New(apperr.KindBadRequest, "sleep must be an integer >= 0"))
	}

	entry, ok := d.reg.Lookup("sleep")
	if !ok {
		return resp.FromAppErr(apperr.New(apperr.KindServerError, "sleep command not registered"))
	}
	params := map[string]string{"seconds": strconv.Itoa(seconds)}

	ok_ := 0
	for i := 0; i < n; i++ {
		r := d.runSync(ctx, entry, params)
		if r.Status == 200 {
			ok_++
		}
	}
	return resp.PlainOK("ok " + strconv.Itoa(ok_) + "/" + strconv.Itoa(n) + "\n")
}

func (d *Dispatcher) jobsSubmit(args map[string]string) resp.Result {
	command := args["task"]
	if command == "" {
		return resp.FromAppErr(apperr.New(apperr.KindBadRequest, "task=<command> is required"))
	}
	params := make(map[string]string, len(args))
	for k, v := range args {
		switch k {
		case "task", "prio", "timeout_ms":
			continue
		}
		params[k] = v
	}

	var timeout time.Duration
	if v := args["timeout_ms"]; v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	id, err := d.jobman.Submit(command, params, jobqueue.ParsePriority(args["prio"]), timeout)
	if err != nil {
		return resp.FromAppErr(err)
	}
	body, _ := json.Marshal(map[string]any{"job_id": id, "status": "queued"})
	return resp.JSONOK(string(body))
}

func (d *Dispatcher) jobsStatus(args map[string]string) resp.Result {
	id := args["id"]
	if id == "" {
		return resp.FromAppErr(apperr.New(apperr.KindBadRequest, "id is required"))
	}
	rec, ok := d.jobman.Status(id)
	if !ok {
		return resp.FromAppErr(apperr.New(apperr.KindNotFound, "job %s not found", id))
	}
	body, _ := json.Marshal(rec)
	return resp.JSONOK(string(body))
}

func (d *Dispatcher) jobsResult(args map[string]string) resp.Result {
	id := args["id"]
	if id == "" {
		return resp.FromAppErr(apperr.New(apperr.KindBadRequest, "id is required"))
	}
	r, err := d.jobman.Result(id)
	if err != nil {
		return resp.FromAppErr(err)
	}
	return r
}

func (d *Dispatcher) jobsCancel(args map[string]string) resp.Result {
	id := args["id"]
	if id == "" {
		return resp.FromAppErr(apperr.New(apperr.KindBadRequest, "id is required"))
	}
	if err := d.jobman.Cancel(id); err != nil {
		return resp.FromAppErr(err)
	}
	body, _ := json.Marshal(map[string]any{"status": "canceled"})
	return resp.JSONOK(string(body))
}

func (d *Dispatcher) jobsList() resp.Result {
	list := d.jobman.List()
	body, _ := json.Marshal(list)
	return resp.JSONOK(string(body))
}

func (d *Dispatcher) metricsJSON() string {
	snap := d.collector.Snapshot()
	b, _ := json.Marshal(snap)
	return string(b)
}

func (d *Dispatcher) help() resp.Result {
	var b strings.Builder
	b.WriteString("/                      -> hola mundo\n")
	b.WriteString("/help                  -> this listing\n")
	b.WriteString("/status                -> process + pool status (served by internal/server)\n")
	b.WriteString("/metrics               -> per-category latency/queue/worker metrics\n")
	b.WriteString("/simulate?task=sleep|spin&...\n")
	b.WriteString("/loadtest?tasks=N&sleep=SECONDS\n\n")
	for _, e := range d.reg.All() {
		b.WriteString("/" + e.Name + "  [" + string(e.Category) + "]\n")
	}
	b.WriteString("\n/jobs/submit?task=TASK&<params>[&timeout_ms=MS][&prio=low|normal|high]\n")
	b.WriteString("/jobs/status?id=JOBID\n")
	b.WriteString("/jobs/result?id=JOBID\n")
	b.WriteString("/jobs/cancel?id=JOBID   (GET or DELETE)\n")
	b.WriteString("/jobs/list\n")
	return resp.PlainOK(b.String())
}

// PoolsSummary exposes a lightweight view of every pool for /status, without
// internal/server needing to import sched or metrics directly.
func (d *Dispatcher) PoolsSummary() map[string]any {
	out := make(map[string]any, len(d.pools))
	snap := d.collector.Snapshot()
	for cat, p := range d.pools {
		cs := snap.Categories[string(cat)]
		out[string(cat)] = map[string]any{
			"workers":        cs.Workers,
			"busy":           cs.Busy,
			"queue_len":      cs.QueueDepth,
			"queue_cap":      cs.Capacity,
			"pool":           p.String(),
			"worker_details": p.Workers(),
		}
	}
	return out
}
