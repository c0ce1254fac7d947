package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewReqID genera un identificador corto (16 caracteres hex) para
// correlacionar peticiones en logs y respuestas.
func NewReqID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// IDGen produces opaque, globally-unique identifiers. Jobs use it instead
// of NewReqID because they must stay unique for the whole process lifetime,
// not just long enough to correlate one request's logs.
type IDGen interface {
	NewID() string
}

type uuidGen struct{}

// NewUUIDGen returns the production IDGen, backed by github.com/google/uuid.
func NewUUIDGen() IDGen { return uuidGen{} }

func (uuidGen) NewID() string { return uuid.NewString() }
