package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompactSQL(t *testing.T) {
	assert.Equal(t, "SELECT id FROM t WHERE a = $1", compactSQL("\n\tSELECT id\n\t  FROM t\n WHERE a = $1\n"))
	assert.Equal(t, "unknown", compactSQL("   "))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, compactSQL(string(long)), 203)
}

func TestOperationAndTable(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{"SELECT id FROM notification_requests WHERE id = $1", "select", "notification_requests"},
		{"UPDATE notification_requests SET delivery_status = $1", "update", "notification_requests"},
		{"INSERT INTO outbox_events (payload) VALUES ($1)", "insert", "outbox_events"},
		{"BEGIN", "begin", "unknown"},
		{"", "unknown", "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.operation, operationOf(tc.sql), tc.sql)
		assert.Equal(t, tc.table, tableOf(tc.sql), tc.sql)
	}
}
