package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := NewConfigValidationError("cpu limit above ceiling", nil)
	assert.Equal(t, "config_validation: cpu limit above ceiling", err.Error())

	wrapped := NewStreamError("reattach failed", errors.New("connection reset"))
	assert.Equal(t, "stream: reattach failed: connection reset", wrapped.Error())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewInternalError("something broke", cause)
	assert.ErrorIs(t, err, cause)
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		err       error
		predicate func(error) bool
	}{
		{NewConfigValidationError("bad", nil), IsConfigValidation},
		{NewBackendUnavailableError("down", nil), IsBackendUnavailable},
		{NewPodCreationError(CauseQuotaExceeded, "quota", nil), IsPodCreation},
		{NewReadinessTimeoutError("slow", nil), IsReadinessTimeout},
		{NewStreamError("broken", nil), IsStream},
		{NewNotFoundError("gone", nil), IsNotFound},
		{NewUnsupportedOperationError("no send", nil), IsUnsupportedOperation},
		{NewInternalError("oops", nil), IsInternal},
	}

	for _, tt := range tests {
		assert.True(t, tt.predicate(tt.err), "predicate should match %v", tt.err)
		assert.False(t, tt.predicate(errors.New("plain")), "predicate should reject plain errors")
	}
}

func TestPredicatesMatchWrappedErrors(t *testing.T) {
	err := fmt.Errorf("creating instance: %w", NewNotFoundError("no such id", nil))
	assert.True(t, IsNotFound(err))
}

func TestSubCauseOf(t *testing.T) {
	err := NewPodCreationError(CauseImagePullFailure, "pull failed", nil)
	assert.Equal(t, CauseImagePullFailure, SubCauseOf(err))
	assert.Empty(t, SubCauseOf(errors.New("plain")))
}
