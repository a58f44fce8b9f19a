package logging

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew(t *testing.T) {
	t.Run("json with level", func(t *testing.T) {
		logger, err := New(Options{Level: "debug"})
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
		assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	})

	t.Run("text and bad level", func(t *testing.T) {
		logger, err := New(Options{Level: "loud", Format: "text"})
		require.NoError(t, err)
		assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
		assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	})

	t.Run("file output", func(t *testing.T) {
		_, err := New(Options{Level: "info", File: filepath.Join(t.TempDir(), "cc.log")})
		require.NoError(t, err)

		_, err = New(Options{Level: "info", File: filepath.Join(t.TempDir(), "missing", "cc.log")})
		assert.Error(t, err)
	})
}

func TestGormLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	gl := NewGormLogger(logger, 10*time.Millisecond)
	fc := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	assert.Contains(t, buf.String(), "boom")

	buf.Reset()
	gl.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	assert.Contains(t, buf.String(), "SLOW SQL")

	buf.Reset()
	gl.Trace(context.Background(), time.Now(), fc, gormlogger.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	buf.Reset()
	silent := gl.LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	silent.Error(context.Background(), "nope")
	assert.Empty(t, buf.String())
}
