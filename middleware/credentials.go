package middleware

import (
	"net"
	"strings"
)

// UnauthorizedMessage is the client-facing message for a missing or
// malformed bearer token.
const UnauthorizedMessage = "You don't have permission to access"

const bearerPrefix = "Bearer "

// ParseBearer returns the trimmed token of an "Authorization: Bearer <token>"
// header value. ok is false when the scheme is missing or the token is empty.
func ParseBearer(authorization string) (token string, ok bool) {
	rest, found := strings.CutPrefix(authorization, bearerPrefix)
	if !found {
		return "", false
	}
	token = strings.TrimSpace(rest)
	return token, token != ""
}

// RedactToken returns a loggable stand-in for a credential: its first four
// characters followed by a mask.
func RedactToken(token string) string {
	const visible = 4
	if len(token) <= visible {
		return "****"
	}
	return token[:visible] + "****"
}

// ForwardedIP returns the client address advertised by proxy headers, checking
// Forwarded (RFC 7239), X-Forwarded-For, then X-Real-IP. get looks a header
// up by name. It returns "" when no header carries a parsable IP.
func ForwardedIP(get func(name string) string) string {
	if ip := forwardedFor(get("Forwarded")); ip != "" {
		return ip
	}
	if xff := get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}
	return parseIP(get("X-Real-IP"))
}

// HostIP strips the port from a "host:port" address, returning "" if the
// host is not an IP.
func HostIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return parseIP(host)
}

// forwardedFor extracts the first for= parameter of a Forwarded header.
func forwardedFor(header string) string {
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	for _, pair := range strings.Split(first, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(name, "for") {
			continue
		}
		value = strings.Trim(value, `"`)
		// IPv6 is bracketed and may carry a port: for="[2001:db8::1]:4711"
		if strings.HasPrefix(value, "[") {
			if end := strings.IndexByte(value, ']'); end > 0 {
				return parseIP(value[1:end])
			}
			return ""
		}
		return HostIP(value)
	}
	return ""
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
