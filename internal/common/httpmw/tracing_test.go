package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestOtelTracingWrapsRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var spanCtx trace.SpanContext
	router := gin.New()
	router.Use(OtelTracing("test"))
	router.GET("/ping", func(c *gin.Context) {
		spanCtx = trace.SpanFromContext(c.Request.Context()).SpanContext()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	// Without an OTLP endpoint the span is a no-op, but the middleware
	// must still thread a span context through and not disturb the
	// response.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, spanCtx.IsValid())
}

func TestOtelTracingPreservesErrorStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(OtelTracing("test"))
	router.GET("/boom", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
