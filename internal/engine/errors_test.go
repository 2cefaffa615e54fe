package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	t.Parallel()

	err := ErrNotStarted.At("contd", 2)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.NotErrorIs(t, err, ErrAlreadyStarted)

	wrapped := fmt.Errorf("session: %w", err)
	assert.ErrorIs(t, wrapped, ErrNotStarted)
	assert.Equal(t, StatusNotStarted, StatusOf(wrapped))
	assert.Equal(t, KindSequencing, KindOf(wrapped))
	assert.Contains(t, err.Error(), "contd part 2")
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusOK},
		{"busy", ErrBusy, StatusBusy},
		{"engine code passthrough", Failure("end", -42), Status(-42)},
		{"engine positive code", Failure("end", 3), StatusEngineFailure},
		{"foreign error", errors.New("boom"), StatusEngineFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.name)
	}
}

func TestAsEngineError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, AsEngineError("end", 0, nil))

	plain := errors.New("numeric instability")
	err := AsEngineError("end", 1, plain)
	assert.ErrorIs(t, err, plain)
	assert.Equal(t, KindEngine, KindOf(err))

	coded := Failure("end", -17)
	assert.Same(t, coded, AsEngineError("end", 1, coded))
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "stroke not started", StatusNotStarted.String())
	assert.Equal(t, "engine status -42", Status(-42).String())
}
