package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"notifyqueue/pkg/circuitbreaker"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error
	{
		var v map[string]any
		syntaxErr = json.Unmarshal([]byte("{oops"), &v)
	}

	var validationErr error
	{
		type payload struct {
			RecipientKey string `validate:"required"`
		}
		validationErr = validator.New().Struct(payload{})
	}

	cases := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"nil", nil, false, ""},
		{"json syntax", fmt.Errorf("decode: %w", syntaxErr), false, "json_decode_error"},
		{"validation", validationErr, false, "validation_error"},
		{"no rows", fmt.Errorf("find: %w", pgx.ErrNoRows), false, "not_found"},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false, "duplicate_key"},
		{"check violation", &pgconn.PgError{Code: "23514"}, false, "constraint_violation"},
		{"serialization", &pgconn.PgError{Code: "40001"}, true, "serialization_failure"},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true, "db_connection_error"},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, false, "db_error"},
		{"breaker open", fmt.Errorf("send: %w", circuitbreaker.ErrCircuitBreakerOpen), true, "circuit_open"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true, "network_error"},
		{"refused text", errors.New("dial tcp: connection refused"), true, "db_connection_error"},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true, "db_locked"},
		{"unknown", errors.New("boom"), false, "unknown_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tc.err)
			assert.Equal(t, tc.retryable, retryable)
			assert.Equal(t, tc.errType, errType)
		})
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(1, 5, true))
	assert.True(t, ShouldRetry(5, 5, true))
	assert.False(t, ShouldRetry(6, 5, true))
	assert.False(t, ShouldRetry(1, 5, false))
}

func TestFormatKeys(t *testing.T) {
	assert.Equal(t, "retry:intake:evt-1", FormatRetryKey("intake", "evt-1"))
	assert.Equal(t, "dedup:intake:evt-1", FormatDedupKey("intake", "evt-1"))
}
