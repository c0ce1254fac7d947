package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobsSubmitStatusResultFlow(t *testing.T) {
	srv := newTestServer(t)

	r := hit(t, srv, "GET /jobs/submit?task=reverse&text=abcdef HTTP/1.0")
	must200(t, "/jobs/submit", r)

	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(bodyOf(r)), &submitted))
	require.NotEmpty(t, submitted.JobID)

	var state string
	require.Eventually(t, func() bool {
		sr := hit(t, srv, "GET /jobs/status?id="+submitted.JobID+" HTTP/1.0")
		var status struct {
			State string `json:"state"`
		}
		_ = json.Unmarshal([]byte(bodyOf(sr)), &status)
		state = status.State
		return state == "done"
	}, 2*time.Second, 10*time.Millisecond, "job never finished, last state=%s", state)

	rr := hit(t, srv, "GET /jobs/result?id="+submitted.JobID+" HTTP/1.0")
	must200(t, "/jobs/result", rr)
	require.Contains(t, bodyOf(rr), "fedcba")
}

func TestJobsStatusUnknownIDIs404(t *testing.T) {
	srv := newTestServer(t)
	r := hit(t, srv, "GET /jobs/status?id=does-not-exist HTTP/1.0")
	require.Equal(t, 404, codeOf(r))
}

func TestJobsCancelQueuedJob(t *testing.T) {
	srv := newTestServer(t)

	r := hit(t, srv, "GET /jobs/submit?task=reverse&text=hello&prio=low HTTP/1.0")
	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(bodyOf(r)), &submitted))

	cr := hit(t, srv, "GET /jobs/cancel?id="+submitted.JobID+" HTTP/1.0")
	// Either it cancels cleanly or it had already started/finished; both are
	// valid races against the single worker, so only a server error is wrong.
	require.NotEqual(t, 500, codeOf(cr))
}

func TestJobsListIncludesSubmittedJob(t *testing.T) {
	srv := newTestServer(t)
	r := hit(t, srv, "GET /jobs/submit?task=reverse&text=zz HTTP/1.0")
	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(bodyOf(r)), &submitted))

	lr := hit(t, srv, "GET /jobs/list HTTP/1.0")
	must200(t, "/jobs/list", lr)
	require.Contains(t, bodyOf(lr), submitted.JobID)
}

func TestJobsSubmitUnknownCommandIs400(t *testing.T) {
	srv := newTestServer(t)
	r := hit(t, srv, "GET /jobs/submit?task=nope HTTP/1.0")
	require.Equal(t, 400, codeOf(r))
}
