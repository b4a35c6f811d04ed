package errors

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()

	assert.NotNil(t, logger.Logger)
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "Logger should use JSON formatter")
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	err := NewPlanLimitError("free", "forwarding pairs", 1)
	logger.LogError(err, "pair rejected", logrus.Fields{"user_id": 42})

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"error_code":"PLAN_LIMIT"`)
	assert.Contains(t, out, `"error_kind":"validation"`)
	assert.Contains(t, out, `"limit_name":"forwarding pairs"`)
	assert.Contains(t, out, `"user_id":42`)
	assert.Contains(t, out, `"msg":"pair rejected"`)
}

func TestLogger_LogRetryableError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"retryable logs at warn", NewTransientError(ErrCodeDisconnected, "dropped", errors.New("eof")), `"level":"warning"`},
		{"permanent logs at error", NewCredentialError("telegram", 1, errors.New("401")), `"level":"error"`},
		{"plain error logs at error", errors.New("boom"), `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := WrapLogger(logrus.New())
			logger.SetFormatter(&logrus.JSONFormatter{})
			logger.SetOutput(&buf)

			logger.LogRetryableError(tt.err, "dispatch failed")
			assert.Contains(t, buf.String(), tt.level)
		})
	}
}
