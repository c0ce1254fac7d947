// Package resp is the uniform response contract between the dispatch core
// and the HTTP/1.0 transport: every handler, pool, and job operation
// returns a Result, never writes to a socket directly.
package resp

import (
	"encoding/json"

	"github.com/Guti2010/compute-server/internal/apperr"
)

// ErrObj es el error estándar que serializamos en JSON.
type ErrObj struct {
	Code   string `json:"error"`
	Detail string `json:"detail"`
}

// Result es el contrato de salida del router.
// Si JSON=true, Body ya es un JSON serializado.
// Si Err!=nil, el servidor enviará {"error","detail"} con Status.
type Result struct {
	Status     int
	Body       string
	JSON       bool
	Err        *ErrObj
	ErrKind    apperr.Kind       // set by FromAppErr; empty for the legacy ErrObj constructors below
	ErrMsg     string            // plain-text message paired with ErrKind, for non-HTTP consumers (e.g. job records)
	Headers    map[string]string // headers extra (X-Worker-Id, etc.)
	RetryAfter int               // seconds; only meaningful when Status==503
}

// WithHeader devuelve una copia de Result con un header adicional.
func (r Result) WithHeader(k, v string) Result {
	if r.Headers == nil {
		r.Headers = make(map[string]string, 1)
	}
	r.Headers[k] = v
	return r
}

// WithRetryAfter attaches a Retry-After hint (seconds) to a 503 response.
func (r Result) WithRetryAfter(seconds int) Result {
	r.RetryAfter = seconds
	return r
}

// Constructores coherentes en todo el árbol:

func PlainOK(body string) Result     { return Result{Status: 200, Body: body, JSON: false} }
func JSONOK(json string) Result      { return Result{Status: 200, Body: json, JSON: true} }
func BadReq(code, d string) Result   { return Result{Status: 400, JSON: true, Err: &ErrObj{code, d}} }
func NotFound(code, d string) Result { return Result{Status: 404, JSON: true, Err: &ErrObj{code, d}} }
func Conflict(code, d string) Result { return Result{Status: 409, JSON: true, Err: &ErrObj{code, d}} }
func TooMany(code, d string) Result  { return Result{Status: 429, JSON: true, Err: &ErrObj{code, d}} }
func IntErr(code, d string) Result   { return Result{Status: 500, JSON: true, Err: &ErrObj{code, d}} }
func Unavail(code, d string) Result  { return Result{Status: 503, JSON: true, Err: &ErrObj{code, d}} }

// statusForKind maps the apperr taxonomy onto HTTP status codes. Kept here,
// next to the response contract it serves, rather than inside apperr, which
// knows nothing about HTTP.
func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindBadRequest, apperr.KindUnknownCommand:
		return 400
	case apperr.KindNotFound:
		return 404
	case apperr.KindNotReady:
		return 409
	case apperr.KindQueueFull:
		return 503
	case apperr.KindTimeout:
		return 504
	case apperr.KindCanceled, apperr.KindAlreadyFinished, apperr.KindRecoveryAborted:
		return 409
	default:
		return 500
	}
}

// FromAppErr renders an *apperr.Error into the wire-level error body:
// {"error": "<kind>: <message>"}.
func FromAppErr(err *apperr.Error) Result {
	status := statusForKind(err.Kind)
	body, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
	r := Result{Status: status, JSON: true, Body: string(body), ErrKind: err.Kind, ErrMsg: err.Message}
	if status == 503 {
		r.RetryAfter = 2
	}
	return r
}
