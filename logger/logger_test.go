package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer

	log := NewWithOutput(&buf, "debug", "development")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log = NewWithOutput(&buf, "loud", "development")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "Invalid log level")
}

func TestNewProductionIsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "info", "production")

	log.WithField("server_id", "g1").Info("swept")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "swept", entry["msg"])
	assert.Equal(t, "g1", entry["server_id"])
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "debug", "production")
	cl := CronLogger{Log: log}

	cl.Error(errors.New("boom"), "panic", "job", "sweep", "dangling")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "panic", entry["msg"])
	assert.Equal(t, "sweep", entry["job"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "error", entry["level"])
}

func TestGormWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "info", "production")

	GormWriter{Log: log}.Printf("%s [%.3fms] %s", "dal.go:42", 612.5, "SELECT 1")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "gorm", entry["component"])
	assert.Contains(t, entry["msg"], "SELECT 1")
}
