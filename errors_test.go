package polydb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("connection_string", "must not be empty")
	require.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "connection_string")
	assert.False(t, IsConfigurationError(errors.New("other")))
}

func TestConnectionFailedUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	err := NewConnectionFailed(PhaseOpen, RoleWrite, inner)
	require.True(t, IsConnectionFailed(err))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "phase=open")
	assert.Contains(t, err.Error(), "role=write")
}

func TestTooManyParameters(t *testing.T) {
	err := NewTooManyParameters(899, 1000)
	require.True(t, IsTooManyParameters(err))
	var tmp *TooManyParameters
	require.True(t, errors.As(err, &tmp))
	assert.Equal(t, 899, tmp.MaxAllowed)
}

func TestUnsupportedIsolationReason(t *testing.T) {
	err := NewUnsupportedIsolation("postgres", "ReadCommitted", "RcsiNotEnabled")
	require.True(t, IsUnsupportedIsolation(err))
	assert.Contains(t, err.Error(), "RcsiNotEnabled")
}

func TestNestedTransactionSentinel(t *testing.T) {
	wrapped := fmt.Errorf("begin: %w", ErrNestedTransactionUnsupported)
	assert.True(t, IsNestedTransactionUnsupported(wrapped))
}

func TestWriteGuardViolation(t *testing.T) {
	err := NewWriteGuardViolation("non-writer connection handed to write execution")
	require.True(t, IsWriteGuardViolation(err))
	assert.Contains(t, err.Error(), "non-writer")
}

func TestModeContentionError(t *testing.T) {
	err := NewModeContentionError(3, "30s")
	require.True(t, IsModeContentionError(err))
	assert.Contains(t, err.Error(), "3 waiters")
}

func TestPoolSaturated(t *testing.T) {
	err := NewPoolSaturated("read", 8, 8, 2, "5s")
	require.True(t, IsPoolSaturated(err))
	assert.Contains(t, err.Error(), "in_use=8")
}

func TestUniqueViolationUnwrap(t *testing.T) {
	inner := errors.New("duplicate key value violates unique constraint")
	err := NewUniqueViolation("users_email_key", inner)
	require.True(t, IsUniqueViolation(err))
	assert.ErrorIs(t, err, inner)
}

func TestInvalidValue(t *testing.T) {
	err := NewInvalidValue("bool", "maybe", "not a recognized boolean literal")
	require.True(t, IsInvalidValue(err))
	assert.Contains(t, err.Error(), "maybe")
}

func TestMultipleRowsFound(t *testing.T) {
	err := NewMultipleRowsFound("users", 2)
	require.True(t, IsMultipleRowsFound(err))
	assert.Contains(t, err.Error(), "count=2")
}
