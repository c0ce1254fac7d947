package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClampsToRange(t *testing.T) {
	var got []int
	s := New(func(p int) { got = append(got, p) })

	s.Report(-10)
	s.Report(0)
	s.Report(55)
	s.Report(100)
	s.Report(250)

	assert.Equal(t, []int{0, 0, 55, 100, 100}, got)
}

func TestNoopAcceptsAnything(t *testing.T) {
	assert.NotPanics(t, func() {
		Noop.Report(-1)
		Noop.Report(50)
		Noop.Report(1000)
	})
}
