package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/nac-producer/internal/config"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeProduce represents a produce operation (content + key object).
	EventTypeProduce EventType = "produce"
	// EventTypeParse represents parsing a key object or E-KEY packet.
	EventTypeParse EventType = "parse"
	// EventTypeKeyRegistration represents registering an encryption key.
	EventTypeKeyRegistration EventType = "key_registration"
	// EventTypeAccess represents a read of a stored object.
	EventTypeAccess EventType = "access"
)

// AuditEvent represents a single audit log event. It never carries key
// material or plaintext, only names and sizes.
type AuditEvent struct {
	Timestamp         time.Time              `json:"timestamp"`
	EventType         EventType              `json:"event_type"`
	Operation         string                 `json:"operation"`
	ContentName       string                 `json:"content_name,omitempty"`
	KeyObjectName     string                 `json:"key_object_name,omitempty"`
	EncryptionKeyName string                 `json:"encryption_key_name,omitempty"`
	Algorithm         string                 `json:"algorithm,omitempty"`
	PayloadSize       int                    `json:"payload_size,omitempty"`
	ClientIP          string                 `json:"client_ip,omitempty"`
	UserAgent         string                 `json:"user_agent,omitempty"`
	RequestID         string                 `json:"request_id,omitempty"`
	Success           bool                   `json:"success"`
	Error             string                 `json:"error,omitempty"`
	Duration          time.Duration          `json:"duration_ms"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogProduce logs a produce operation.
	LogProduce(contentName, keyObjectName, encryptionKeyName, algorithm string, payloadSize int, success bool, err error, duration time.Duration, metadata map[string]interface{})

	// LogParse logs parsing of a key object or E-KEY packet.
	LogParse(objectName, encryptionKeyName string, success bool, err error)

	// LogKeyRegistration logs an encryption key registration.
	LogKeyRegistration(encryptionKeyName string, success bool, err error)

	// LogAccess logs a read of a stored object.
	LogAccess(name, clientIP, userAgent, requestID string, success bool, err error, duration time.Duration)

	// GetEvents returns the buffered audit events, oldest first.
	GetEvents() []*AuditEvent

	// Close closes the logger and its underlying writer.
	Close() error
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu         sync.Mutex
	events     []*AuditEvent
	maxEvents  int
	writer     EventWriter
	redactKeys []string
	logger     *logrus.Logger
}

// NewLogger creates a new audit logger keeping at most maxEvents in memory.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates a new audit logger that replaces the
// metadata values of redactKeys.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactKeys []string) Logger {
	if writer == nil {
		writer = &StdoutSink{}
	}
	if maxEvents <= 0 {
		maxEvents = 1000
	}

	return &auditLogger{
		events:     make([]*AuditEvent, 0, min(maxEvents, 1024)),
		maxEvents:  maxEvents,
		writer:     writer,
		redactKeys: redactKeys,
	}
}

// NewLoggerFromConfig creates an audit logger from configuration. Sink
// write failures are reported through logger when it is non-nil.
func NewLoggerFromConfig(cfg config.AuditConfig, logger *logrus.Logger) (Logger, error) {
	var writer EventWriter

	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = NewFileSink(cfg.Sink.FilePath)
	case "stdout", "":
		writer = &StdoutSink{}
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
	}

	l := NewLoggerWithRedaction(cfg.MaxEvents, writer, cfg.RedactMetadataKeys).(*auditLogger)
	l.logger = logger
	return l, nil
}

// Log logs an audit event.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.WriteEvent(event); err != nil && l.logger != nil {
		l.logger.WithError(err).WithField("event_type", event.EventType).Warn("Failed to write audit event")
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return nil
}

// Close closes the logger and its underlying writer.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// redactMetadata replaces sensitive metadata values, copying the map only
// when something needs replacing.
func (l *auditLogger) redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactKeys) == 0 || len(metadata) == 0 {
		return metadata
	}

	var clone map[string]interface{}
	for _, key := range l.redactKeys {
		if _, ok := metadata[key]; !ok {
			continue
		}
		if clone == nil {
			clone = make(map[string]interface{}, len(metadata))
			for k, v := range metadata {
				clone[k] = v
			}
		}
		clone[key] = "[REDACTED]"
	}
	if clone == nil {
		return metadata
	}
	return clone
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// LogProduce logs a produce operation.
func (l *auditLogger) LogProduce(contentName, keyObjectName, encryptionKeyName, algorithm string, payloadSize int, success bool, err error, duration time.Duration, metadata map[string]interface{}) {
	l.Log(&AuditEvent{
		Timestamp:         time.Now(),
		EventType:         EventTypeProduce,
		Operation:         "produce",
		ContentName:       contentName,
		KeyObjectName:     keyObjectName,
		EncryptionKeyName: encryptionKeyName,
		Algorithm:         algorithm,
		PayloadSize:       payloadSize,
		Success:           success,
		Error:             errString(err),
		Duration:          duration,
		Metadata:          l.redactMetadata(metadata),
	})
}

// LogParse logs parsing of a key object or E-KEY packet.
func (l *auditLogger) LogParse(objectName, encryptionKeyName string, success bool, err error) {
	l.Log(&AuditEvent{
		Timestamp:         time.Now(),
		EventType:         EventTypeParse,
		Operation:         "parse",
		KeyObjectName:     objectName,
		EncryptionKeyName: encryptionKeyName,
		Success:           success,
		Error:             errString(err),
	})
}

// LogKeyRegistration logs an encryption key registration.
func (l *auditLogger) LogKeyRegistration(encryptionKeyName string, success bool, err error) {
	l.Log(&AuditEvent{
		Timestamp:         time.Now(),
		EventType:         EventTypeKeyRegistration,
		Operation:         "key_registration",
		EncryptionKeyName: encryptionKeyName,
		Success:           success,
		Error:             errString(err),
	})
}

// LogAccess logs a read of a stored object.
func (l *auditLogger) LogAccess(name, clientIP, userAgent, requestID string, success bool, err error, duration time.Duration) {
	l.Log(&AuditEvent{
		Timestamp:   time.Now(),
		EventType:   EventTypeAccess,
		Operation:   "get",
		ContentName: name,
		ClientIP:    clientIP,
		UserAgent:   userAgent,
		RequestID:   requestID,
		Success:     success,
		Error:       errString(err),
		Duration:    duration,
	})
}

// GetEvents returns the buffered audit events, oldest first.
func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// StdoutSink writes events to stdout as JSON lines.
type StdoutSink struct{}

// WriteEvent writes a single event.
func (s *StdoutSink) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
