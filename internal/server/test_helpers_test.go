package server

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Guti2010/compute-server/internal/jobs"
	"github.com/Guti2010/compute-server/internal/metrics"
	"github.com/Guti2010/compute-server/internal/registry"
	"github.com/Guti2010/compute-server/internal/router"
	"github.com/Guti2010/compute-server/internal/sched"
	"github.com/Guti2010/compute-server/internal/util"
)

// newTestServer builds a full, isolated stack (registry, one pool per
// category, a job manager with no persistence, and a fresh metrics
// collector) the way cmd/server does at startup, but scoped to one test.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	collector := metrics.New(0)
	reg := registry.Defaults(2*time.Second, 2*time.Second)

	pools := map[registry.Category]*sched.Pool{
		registry.Basic:    sched.New("basic", 2, 16, collector),
		registry.CPUBound:  sched.New("cpu_bound", 2, 16, collector),
		registry.IOBound:   sched.New("io_bound", 2, 16, collector),
	}

	cfg := map[registry.Category]jobs.CategoryConfig{
		registry.Basic:    {Workers: 1, Capacity: 8, AgingWindow: 2 * time.Second},
		registry.CPUBound:  {Workers: 1, Capacity: 8, AgingWindow: 2 * time.Second},
		registry.IOBound:   {Workers: 1, Capacity: 8, AgingWindow: 2 * time.Second},
	}
	jobman := jobs.NewManager(reg, util.NewUUIDGen(), nil, nil, nil, 500*time.Millisecond, cfg)

	d := router.New(reg, pools, jobman, collector)
	srv := New(d, nil)

	t.Cleanup(func() {
		d.Close()
		for _, p := range pools {
			p.Close()
		}
	})

	return srv
}

// hit sends a raw HTTP/1.0 request string to srv's connection handler over
// an in-memory pipe and returns the full response bytes, headers included.
func hit(t *testing.T, srv *Server, req string) []byte {
	t.Helper()

	if !strings.HasSuffix(req, "\r\n\r\n") {
		req += "\r\n\r\n"
	}

	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })

	done := make(chan struct{})
	go func() {
		_ = c1.SetDeadline(time.Now().Add(5 * time.Second))
		srv.HandleConn(c1)
		close(done)
	}()

	if _, err := io.WriteString(c2, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, c2); err != nil && !errorsIsClosed(err) {
		t.Fatalf("read response: %v", err)
	}
	<-done

	return buf.Bytes()
}

func errorsIsClosed(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") || strings.Contains(s, "closed pipe")
}

func bodyOf(r []byte) string {
	i := bytes.Index(r, []byte("\r\n\r\n"))
	if i < 0 {
		return ""
	}
	return string(r[i+4:])
}

func codeOf(r []byte) int {
	br := bufio.NewReader(bytes.NewReader(r))
	line, _ := br.ReadString('\n')
	parts := strings.Fields(line)
	if len(parts) >= 2 {
		if n := parseInt(parts[1]); n > 0 {
			return n
		}
	}
	return 0
}

func parseInt(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func must200(t *testing.T, name string, r []byte) {
	t.Helper()
	if codeOf(r) != 200 {
		t.Fatalf("%s: want HTTP/1.0 200, got: %s", name, string(r))
	}
}
