package fnerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   *WorkerError
		class Class
		fatal bool
	}{
		{"protocol", NewProtocolError("bad frame", nil), ClassProtocol, true},
		{"load", NewLoadError("bad descriptor", nil), ClassLoad, false},
		{"decode", NewDecodeError("bad input", nil), ClassDecode, false},
		{"handler", NewHandlerError("user code failed", nil), ClassHandler, false},
		{"cancelled", NewCancelledError("host asked"), ClassCancelled, false},
		{"divergence", NewDivergenceError("history mismatch"), ClassDivergence, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, ClassOf(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestClassSurvivesWrapping(t *testing.T) {
	inner := NewDecodeError("bad input", nil).WithCode(CodeTypeMismatch)
	wrapped := fmt.Errorf("while building invocation: %w", inner)

	assert.Equal(t, ClassDecode, ClassOf(wrapped))
	assert.False(t, IsFatal(wrapped))

	var werr *WorkerError
	assert.True(t, errors.As(wrapped, &werr))
	assert.Equal(t, CodeTypeMismatch, werr.Code)
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := NewHandlerError("boom", errors.New("root cause")).
		WithFunction("f1").
		WithInvocation("inv-9")

	msg := err.Error()
	assert.Contains(t, msg, "[handler]")
	assert.Contains(t, msg, "inv-9")
	assert.Contains(t, msg, "root cause")
}

func TestIsMatchesClassAndCode(t *testing.T) {
	err := NewLoadError("dup", nil).WithCode(CodeDuplicateFunction)

	assert.True(t, errors.Is(err, &WorkerError{Class: ClassLoad}))
	assert.True(t, errors.Is(err, &WorkerError{Class: ClassLoad, Code: CodeDuplicateFunction}))
	assert.False(t, errors.Is(err, &WorkerError{Class: ClassLoad, Code: CodeRegistrySealed}))
	assert.False(t, errors.Is(err, &WorkerError{Class: ClassProtocol}))
}

func TestHelpersIgnoreForeignErrors(t *testing.T) {
	plain := errors.New("plain")
	assert.Equal(t, Class(""), ClassOf(plain))
	assert.False(t, IsFatal(plain))
	assert.False(t, IsCancelled(plain))
	assert.False(t, IsDivergence(plain))
	assert.False(t, IsFatal(nil))
}
