package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrRootNotFound, "source does not exist")
	assert.Equal(t, "[ROOT_NOT_FOUND] source does not exist", err.Error())

	wrapped := Wrap(fmt.Errorf("stat /nope: no such file"), ErrRootNotFound, "source does not exist")
	assert.Equal(t, "[ROOT_NOT_FOUND] source does not exist: stat /nope: no such file", wrapped.Error())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrInternal, "nothing"))
	assert.Nil(t, Wrapf(nil, ErrInternal, "nothing %d", 1))
}

func TestIsAndGetCode(t *testing.T) {
	base := Newf(ErrUnknownAlgorithm, "unknown digest type %q", "crc")
	chained := fmt.Errorf("load config: %w", base)

	assert.True(t, IsCode(chained, ErrUnknownAlgorithm))
	assert.False(t, IsCode(chained, ErrRootNotFound))
	assert.Equal(t, ErrUnknownAlgorithm, GetCode(chained))
	assert.Equal(t, ErrUnknown, GetCode(errors.New("plain")))

	var target *Error
	require.True(t, errors.As(chained, &target))
	assert.Equal(t, "unknown digest type \"crc\"", target.Message)
}

func TestWithDetail(t *testing.T) {
	err := New(ErrRootNotDir, "not a directory").WithDetail("path", "/tmp/file")
	assert.Equal(t, "/tmp/file", err.Details["path"])
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"unknown algorithm", New(ErrUnknownAlgorithm, "x"), 98},
		{"root not found", New(ErrRootNotFound, "x"), 94},
		{"root not dir", New(ErrRootNotDir, "x"), 94},
		{"invalid config", New(ErrConfigInvalid, "x"), 2},
		{"partial", New(ErrPartial, "x"), 3},
		{"locked", New(ErrTargetLocked, "x"), 75},
		{"cancelled wrapped", fmt.Errorf("run: %w", New(ErrCancelled, "x")), 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitStatus(tt.err))
		})
	}
}

func TestIsFatalConfig(t *testing.T) {
	assert.True(t, IsFatalConfig(New(ErrUnknownAlgorithm, "x")))
	assert.True(t, IsFatalConfig(New(ErrRootNotFound, "x")))
	assert.False(t, IsFatalConfig(New(ErrPartial, "x")))
	assert.False(t, IsFatalConfig(errors.New("x")))
}
