package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestNewUsesJSONInRelease(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "debug", true)
	log.WithField("k", "v").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "v", line["k"])
}

func TestGinMiddlewareLogsFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "info", true)

	r := gin.New()
	r.Use(Gin(log))
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Empty(t, buf.String(), "successful requests log at debug")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "/boom", line["path"])
	assert.EqualValues(t, 500, line["status"])
	assert.Equal(t, "error", line["level"])
}

func TestGormBridgeSkipsNotFound(t *testing.T) {
	var buf bytes.Buffer
	g := NewGorm(NewWithOutput(&buf, "debug", true))
	fc := func() (string, int64) { return "SELECT 1", 0 }

	g.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	g.Trace(context.Background(), time.Now(), fc, errors.New("connection reset"))
	assert.Contains(t, buf.String(), "query failed")

	buf.Reset()
	g.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), fc, errors.New("ignored"))
	assert.Empty(t, buf.String())
}
