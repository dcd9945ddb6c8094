package logger

import (
	"fmt"
	"os"
	"sync"
)

// TestLogEntry is a single captured log call.
type TestLogEntry struct {
	Severity string
	Message  string
}

// TestLogger captures log entries in memory for assertions in tests. It is
// safe for concurrent use; clones made with With share the entry log.
type TestLogger struct {
	metadata map[string]interface{}
	mu       *sync.Mutex
	entries  *[]TestLogEntry
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a Logger that records every call.
func NewTestLogger() *TestLogger {
	entries := make([]TestLogEntry, 0)
	return &TestLogger{mu: &sync.Mutex{}, entries: &entries}
}

// Entries returns a snapshot of the captured log entries in call order.
func (c *TestLogger) Entries() []TestLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]TestLogEntry, len(*c.entries))
	copy(snapshot, *c.entries)
	return snapshot
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{})
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{metadata: kv, mu: c.mu, entries: c.entries}
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (c *TestLogger) record(severity string, msg string, args ...interface{}) {
	c.mu.Lock()
	*c.entries = append(*c.entries, TestLogEntry{severity, fmt.Sprintf(msg, args...)})
	c.mu.Unlock()
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.record("TRACE", msg, args...)
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.record("DEBUG", msg, args...)
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.record("INFO", msg, args...)
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.record("WARN", msg, args...)
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.record("ERROR", msg, args...)
}

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.record("FATAL", msg, args...)
	os.Exit(1)
}
