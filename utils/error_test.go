package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifyStorageError_LockWaitAndDeadlock(t *testing.T) {
	for _, code := range []uint16{1205, 1213} {
		err := ClassifyStorageError(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: code, Message: "lock"}))
		assert.ErrorIs(t, err, ErrStorageTimeout, "code %d", code)
	}

	err := ClassifyStorageError(&mysql.MySQLError{Number: 1062, Message: "duplicate"})
	assert.NotErrorIs(t, err, ErrStorageTimeout)
}

func TestClassifyStorageError_ContextAndNotFound(t *testing.T) {
	assert.ErrorIs(t, ClassifyStorageError(context.DeadlineExceeded), ErrStorageTimeout)
	assert.ErrorIs(t, ClassifyStorageError(gorm.ErrRecordNotFound), ErrorRecordNotFound)
	assert.NoError(t, ClassifyStorageError(nil))
}

func TestReversalError_UnwrapsCause(t *testing.T) {
	cause := &ConsistencyError{Entity: "product", ID: 3}
	var err error = &ReversalError{InvoiceId: 9, Err: cause}

	var re *ReversalError
	require.True(t, errors.As(err, &re))
	assert.True(t, re.Retryable())

	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.ID)
}

func TestNotFoundError_IsRecordNotFound(t *testing.T) {
	err := fmt.Errorf("load: %w", &NotFoundError{Resource: "invoice", ID: 4})
	assert.ErrorIs(t, err, ErrorRecordNotFound)
	assert.True(t, IsDomainError(err))
	assert.False(t, IsDomainError(errors.New("boom")))
}
