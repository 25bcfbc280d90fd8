package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbosityLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		verbose int
		want    LogLevel
	}{
		{0, ErrorLevel},
		{1, ErrorLevel},
		{2, WarnLevel},
		{3, InfoLevel},
		{4, DebugLevel},
		{5, TraceLevel},
		{42, TraceLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VerbosityLevel(tt.verbose), "verbose %d", tt.verbose)
	}
}

func TestNewLogLogger_RoutesToZerolog(t *testing.T) {
	var buf bytes.Buffer
	InitializeLoggerTo(&buf, InfoLevel)

	l := NewLogLogger("test", WarnLevel)
	l.Println("fuse: something happened")

	out := buf.String()
	assert.Contains(t, out, "something happened")
	assert.Contains(t, out, "WRN")
}

func TestValueOrDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, ValueOrDefault(Pointer(3), 7))
	assert.Equal(t, 7, ValueOrDefault[int](nil, 7))
}
