package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestConnect_RejectsEmptyConnectionString(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrEmptyConnectionString)
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, IsNotFoundError(pgx.ErrNoRows))
	assert.False(t, IsNotFoundError(errors.New("boom")))
}

func TestIsUniqueViolation_NonPgError(t *testing.T) {
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}
