package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClasses(t *testing.T) {
	assert.True(t, OK.IsOK())
	assert.False(t, OK.IsWarning())

	for _, s := range []Status{WarnNotFound, WarnPremature, WarnInvalidArgs} {
		assert.True(t, s.IsWarning(), s.String())
		assert.False(t, s.IsError(), s.String())
	}
	for _, s := range []Status{ErrCC, ErrPhantom, ErrWriteOnReadOnly} {
		assert.True(t, s.IsError(), s.String())
		assert.False(t, s.IsFatal(), s.String())
	}
	for _, s := range []Status{ErrSessionLimit, ErrInvalidToken, ErrFatal, ErrStorageExists} {
		assert.True(t, s.IsFatal(), s.String())
		assert.False(t, s.IsError(), s.String())
	}
}

func TestNames(t *testing.T) {
	for s := OK; s <= ErrStorageExists; s++ {
		_, ok := statusNames[s]
		assert.True(t, ok, "missing name for %d", int(s))
	}
	assert.Equal(t, "STATUS(999)", Status(999).String())
	assert.Equal(t, "CC_OCC_PHANTOM_AVOIDANCE", ReasonOccPhantom.String())
	assert.Equal(t, "REASON(-1)", Reason(-1).String())
}
