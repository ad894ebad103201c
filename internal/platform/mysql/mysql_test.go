package mysql

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"askdoc/internal/config"
	applog "askdoc/internal/platform/log"
)

func TestGormLoggerWritesThroughApplog(t *testing.T) {
	var out bytes.Buffer
	applog.Init(applog.Config{Level: "info", Format: "json", Output: &out})
	l := newGormLogger(config.MySQLConfig{SlowQueryMillis: 200})
	ctx := context.Background()

	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT missing", 0 }, gorm.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT fast", 1 }, nil)
	l.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT slow", 1 }, nil)
	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT broken", 0 }, errors.New("syntax error"))

	logged := out.String()
	assert.Contains(t, logged, `"component":"gorm"`)
	assert.Contains(t, logged, "SELECT slow")
	assert.Contains(t, logged, "SELECT broken")
	assert.NotContains(t, logged, "SELECT missing")
	assert.NotContains(t, logged, "SELECT fast")
}
