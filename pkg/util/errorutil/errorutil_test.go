package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"no rows", fmt.Errorf("load ticket: %w", pgx.ErrNoRows), CodeNotFound, http.StatusNotFound},
		{"domain error passes through", NewInvalidStateTransition("timer", "completed", "paused"), CodeInvalidStateTransition, http.StatusBadRequest},
		{"wrapped domain error", fmt.Errorf("ctx: %w", NewConflict("dup", nil)), CodeConflict, http.StatusConflict},
		{"unknown", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := ToDomainError(tt.err)
			require.NotNil(t, de)
			assert.Equal(t, tt.wantCode, de.Code)
			assert.Equal(t, tt.wantStatus, de.HTTPStatus)
		})
	}
}

func TestMapErrorNil(t *testing.T) {
	assert.NoError(t, MapError(nil))
	assert.Nil(t, ToDomainError(nil))
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("pause: %w", NewInvalidStateTransition("timer", "paused", "paused"))
	assert.True(t, IsCode(err, CodeInvalidStateTransition))
	assert.False(t, IsCode(err, CodeNotFound))
	assert.False(t, IsCode(errors.New("x"), CodeNotFound))
}
