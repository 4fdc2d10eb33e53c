package utils

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded first hop", "203.0.113.7, 10.0.0.1", "", "10.0.0.2:5000", "203.0.113.7"},
		{"invalid forwarded falls through", "garbage", "198.51.100.4", "10.0.0.2:5000", "198.51.100.4"},
		{"remote addr", "", "", "192.0.2.10:443", "192.0.2.10"},
		{"ipv6 remote addr", "", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"nothing usable", "", "", "pipe", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = req

			assert.Equal(t, tt.want, ExtractClientIP(c))
		})
	}
}

func TestClientIPContext(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ClientIPFromContext(context.Background()))
	assert.Equal(t, "192.0.2.1", ClientIPFromContext(WithClientIP(context.Background(), "192.0.2.1")))
}
