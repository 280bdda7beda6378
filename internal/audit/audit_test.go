package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LogProduce(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLogger(10, mock)

	logger.LogProduce("/alice/photo1", "/alice/photo1/C-KEY/ENC-KEY/1", "/alice/ENC-KEY/1",
		"AES256-GCM+RSA-OAEP-SHA256", 11, true, nil, time.Millisecond, map[string]interface{}{"client": "cli"})

	events := logger.GetEvents()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, EventTypeProduce, e.EventType)
	assert.Equal(t, "/alice/photo1", e.ContentName)
	assert.Equal(t, "/alice/photo1/C-KEY/ENC-KEY/1", e.KeyObjectName)
	assert.Equal(t, "/alice/ENC-KEY/1", e.EncryptionKeyName)
	assert.Equal(t, 11, e.PayloadSize)
	assert.True(t, e.Success)
	assert.Empty(t, e.Error)
	assert.Equal(t, 1, mock.count())
}

func TestLogger_FailureEvents(t *testing.T) {
	logger := NewLogger(10, &mockWriter{})

	logger.LogParse("/alice/photo1/C-KEY/ENC-KEY/1", "", false, errors.New("malformed"))
	logger.LogKeyRegistration("/alice/ENC-KEY/1", false, errors.New("weak key"))
	logger.LogAccess("/alice/photo1", "10.0.0.1", "curl", "req-1", false, errors.New("not found"), time.Millisecond)

	events := logger.GetEvents()
	require.Len(t, events, 3)
	assert.Equal(t, EventTypeParse, events[0].EventType)
	assert.Equal(t, "malformed", events[0].Error)
	assert.Equal(t, EventTypeKeyRegistration, events[1].EventType)
	assert.Equal(t, "weak key", events[1].Error)
	assert.Equal(t, EventTypeAccess, events[2].EventType)
	assert.Equal(t, "10.0.0.1", events[2].ClientIP)
	for _, e := range events {
		assert.False(t, e.Success)
	}
}

func TestLogger_MaxEvents(t *testing.T) {
	logger := NewLogger(3, &mockWriter{})
	for i := 0; i < 5; i++ {
		logger.LogKeyRegistration("/alice/ENC-KEY/"+string(rune('a'+i)), true, nil)
	}

	events := logger.GetEvents()
	require.Len(t, events, 3)
	assert.Equal(t, "/alice/ENC-KEY/c", events[0].EncryptionKeyName)
	assert.Equal(t, "/alice/ENC-KEY/e", events[2].EncryptionKeyName)
}

func TestLogger_Redaction(t *testing.T) {
	logger := NewLoggerWithRedaction(10, &mockWriter{}, []string{"client_token"})
	metadata := map[string]interface{}{"client_token": "s3cr3t", "client": "cli"}

	logger.LogProduce("/alice/photo1", "", "", "", 0, true, nil, 0, metadata)

	got := logger.GetEvents()[0].Metadata
	assert.Equal(t, "[REDACTED]", got["client_token"])
	assert.Equal(t, "cli", got["client"])
	assert.Equal(t, "s3cr3t", metadata["client_token"], "caller metadata is not modified")
}

func TestLogger_WriterFailureStillBuffers(t *testing.T) {
	logger := NewLogger(10, &mockWriter{failures: 1})
	logger.LogKeyRegistration("/alice/ENC-KEY/1", true, nil)
	assert.Len(t, logger.GetEvents(), 1)
}
