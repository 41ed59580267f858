package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification_Retryable(t *testing.T) {
	assert.True(t, Transient.Retryable())
	assert.True(t, Rejected.Retryable())
	assert.False(t, AlreadySettled.Retryable())
	assert.False(t, Malformed.Retryable())
	assert.False(t, Configuration.Retryable())
}

func TestRelayerError_Unwrap(t *testing.T) {
	cause := errors.New("underlying transport failure")
	err := NewTransientError(ErrCodeRPCTimeout, "rpc call timed out", nil, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "rpc call timed out")
}

func TestClassify_DefaultsUnrecognizedErrorsToTransient(t *testing.T) {
	assert.Equal(t, Transient, Classify(errors.New("some plain error")))
}

func TestClassify_ExtractsRelayerErrorClassification(t *testing.T) {
	err := NewRejectedError(ErrCodeInsufficientGas, "insufficient gas", nil)
	assert.Equal(t, Rejected, Classify(err))
}
