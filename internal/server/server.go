// Package server runs the HTTP/1.0 listener: it accepts connections,
// parses one request per connection with internal/http10, hands it to the
// Dispatcher, and writes back whatever resp.Result comes out. Operational
// endpoints (profiler, Prometheus scrape) live on a separate listener in
// internal/admin rather than sharing this one.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Guti2010/compute-server/internal/http10"
	"github.com/Guti2010/compute-server/internal/router"
	"github.com/Guti2010/compute-server/internal/util"
)

// Server accepts HTTP/1.0 connections and dispatches them through a
// router.Dispatcher. Every dependency is a field so multiple Servers
// (e.g. in tests) never share state.
type Server struct {
	dispatcher *router.Dispatcher
	log        *zap.Logger

	startedAt time.Time
	connCount uint64

	ln net.Listener
}

// New builds a Server around dispatcher. log may be nil, in which case a
// no-op logger is used.
func New(dispatcher *router.Dispatcher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{dispatcher: dispatcher, log: log, startedAt: time.Now()}
}

// ListenAndServe binds addr and serves connections until Accept fails (e.g.
// the listener was closed by Shutdown).
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("listening", zap.String("addr", addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		atomic.AddUint64(&s.connCount, 1)
		go s.HandleConn(conn)
	}
}

// Shutdown stops accepting new connections. In-flight connections finish on
// their own since each serves exactly one HTTP/1.0 request.
func (s *Server) Shutdown(_ context.Context) error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// HandleConn serves exactly one HTTP/1.0 request on c, matching the
// protocol's one-request-per-connection model, then closes it.
func (s *Server) HandleConn(c net.Conn) {
	defer c.Close()

	trace := map[string]string{
		"X-Request-Id":    util.NewReqID(),
		"X-Worker-Pid":    strconv.Itoa(os.Getpid()),
		"X-Worker-Thread": "0",
		"Connection":      "close",
	}

	r := bufio.NewReader(c)
	req, err := http10.ParseRequest(r)
	if err != nil {
		http10.WriteErrorJSON(c, 400, "bad_request", err.Error(), trace)
		return
	}

	if req.Method == "GET" {
		path, _ := http10.SplitTarget(req.Target)
		if path == "/status" {
			s.writeStatus(c, trace)
			return
		}
	}

	res := s.dispatcher.Dispatch(context.Background(), req.Method, req.Target)

	hdrs := make(map[string]string, len(trace)+len(res.Headers)+1)
	for k, v := range trace {
		hdrs[k] = v
	}
	for k, v := range res.Headers {
		hdrs[k] = v
	}
	if res.RetryAfter > 0 {
		hdrs["Retry-After"] = strconv.Itoa(res.RetryAfter)
	}

	if res.JSON {
		if res.Err != nil {
			http10.WriteErrorJSON(c, res.Status, res.Err.Code, res.Err.Detail, hdrs)
		} else {
			http10.WriteJSONH(c, res.Status, res.Body, hdrs)
		}
	} else {
		http10.WritePlainH(c, res.Status, res.Body, hdrs)
	}
}

func (s *Server) writeStatus(c net.Conn, trace map[string]string) {
	out := map[string]any{
		"pid":         os.Getpid(),
		"uptime_ms":   time.Since(s.startedAt).Milliseconds(),
		"started_at":  s.startedAt.UTC().Format(time.RFC3339Nano),
		"connections": atomic.LoadUint64(&s.connCount),
		"pools":       s.dispatcher.PoolsSummary(),
	}
	b, _ := json.Marshal(out)
	http10.WriteJSONH(c, 200, string(b), trace)
}
