package middleware_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/krishna-kudari/governor/middleware"
)

func TestParseBearer(t *testing.T) {
	tests := []struct {
		in     string
		token  string
		wantOK bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer   padded  ", "padded", true},
		{"Bearer ", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := middleware.ParseBearer(tt.in)
		assert.Equal(t, tt.wantOK, ok, "input %q", tt.in)
		assert.Equal(t, tt.token, token, "input %q", tt.in)
	}
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "****", middleware.RedactToken("abc"))
	assert.Equal(t, "****", middleware.RedactToken("abcd"))
	assert.Equal(t, "abcd****", middleware.RedactToken("abcdefgh"))
}

func TestForwardedIP(t *testing.T) {
	headers := map[string]string{}
	get := func(name string) string { return headers[name] }

	assert.Equal(t, "", middleware.ForwardedIP(get))

	headers["X-Real-IP"] = "198.51.100.7"
	assert.Equal(t, "198.51.100.7", middleware.ForwardedIP(get))

	headers["X-Forwarded-For"] = "203.0.113.50, 10.0.0.1"
	assert.Equal(t, "203.0.113.50", middleware.ForwardedIP(get))

	headers["Forwarded"] = "for=192.0.2.43:8080, for=198.51.100.17"
	assert.Equal(t, "192.0.2.43", middleware.ForwardedIP(get))
}

func TestHostIP(t *testing.T) {
	assert.Equal(t, "10.0.0.1", middleware.HostIP("10.0.0.1:80"))
	assert.Equal(t, "10.0.0.1", middleware.HostIP("10.0.0.1"))
	assert.Equal(t, "::1", middleware.HostIP("[::1]:80"))
	assert.Equal(t, "", middleware.HostIP("example.com:80"))
}
