package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/seatkeeper/pkg/logger"
)

func TestLoggerMiddleware(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	t.Cleanup(logger.Replace(zap.New(core)))

	r := gin.New()
	r.Use(Logger())
	r.GET("/ping", func(c *gin.Context) {
		c.Set(CtxIdentityIDKey, "identity-1")
		c.String(http.StatusOK, "pong")
	})

	w := serve(r, http.MethodGet, "/ping?code=secret", nil)
	require.Equal(t, http.StatusOK, w.Code)

	entries := recorded.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "/ping", fields["path"])
	require.Equal(t, int64(http.StatusOK), fields["status"])
	require.Equal(t, "identity-1", fields["identity_id"])
	require.Equal(t, "http", fields["module"])
}
