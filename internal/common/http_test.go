package common

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"203.0.113.7:5555":        "203.0.113.7",
		"[2001:db8::1]:443":       "2001:db8::1",
		"[::ffff:198.51.100.2]:1": "198.51.100.2",
		"198.51.100.9":            "198.51.100.9",
	}
	for remote, want := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", "10.0.0.1")
		require.Equal(t, want, ClientIP(req), remote)
	}
	require.Empty(t, ClientIP(nil))
}
