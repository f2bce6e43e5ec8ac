package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/krishna-kudari/governor"
)

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// PeerIP keys requests by the IP of the connecting socket (RemoteAddr).
// Behind a proxy every request shares the proxy's address; use SmartIP there.
type PeerIP struct{}

func (PeerIP) Name() string { return "peer_ip" }

func (PeerIP) Extract(r *http.Request) (string, error) {
	if ip := HostIP(r.RemoteAddr); ip != "" {
		return ip, nil
	}
	return "", governor.NewBadRequest("peer_ip", "unable to determine client address",
		errors.New("unparsable remote address "+r.RemoteAddr))
}

// SmartIP keys requests by the client IP advertised in Forwarded,
// X-Forwarded-For or X-Real-IP, falling back to the peer address.
// Only use it behind a proxy that overwrites those headers.
type SmartIP struct{}

func (SmartIP) Name() string { return "smart_ip" }

func (SmartIP) Extract(r *http.Request) (string, error) {
	if ip := ForwardedIP(r.Header.Get); ip != "" {
		return ip, nil
	}
	if ip := HostIP(r.RemoteAddr); ip != "" {
		return ip, nil
	}
	return "", governor.NewBadRequest("smart_ip", "unable to determine client address",
		errors.New("no forwarding header and unparsable remote address "+r.RemoteAddr))
}

// BearerToken keys requests by the token of an "Authorization: Bearer" header.
// Requests without one are rejected as Unauthenticated. Tokens are redacted
// in logs and stats.
type BearerToken struct{}

func (BearerToken) Name() string { return "bearer_token" }

func (BearerToken) Extract(r *http.Request) (string, error) {
	token, ok := ParseBearer(r.Header.Get("Authorization"))
	if !ok {
		return "", governor.NewUnauthenticated("bearer_token", UnauthorizedMessage)
	}
	return token, nil
}

func (BearerToken) KeyName(token string) string { return RedactToken(token) }

// Header keys requests by the value of the named header, e.g. an API key.
// A missing or blank header is a BadRequest.
func Header(name string) governor.KeyExtractor[*http.Request, string] {
	return headerExtractor{name: name}
}

type headerExtractor struct{ name string }

func (h headerExtractor) Name() string { return "header:" + strings.ToLower(h.name) }

func (h headerExtractor) Extract(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.Header.Get(h.name))
	if v == "" {
		return "", governor.NewBadRequest(h.Name(), "missing "+h.name+" header", nil)
	}
	return v, nil
}

// Global shares one bucket between every request.
var Global governor.KeyExtractor[*http.Request, string] = governor.Global[*http.Request]{}

// PathAndIP combines the request path with SmartIP, giving each caller a
// separate bucket per endpoint.
var PathAndIP = governor.ExtractorFunc("path_ip", func(r *http.Request) (string, error) {
	ip, err := SmartIP{}.Extract(r)
	if err != nil {
		return "", err
	}
	return r.URL.Path + ":" + ip, nil
})

var (
	_ governor.KeyExtractor[*http.Request, string] = PeerIP{}
	_ governor.KeyExtractor[*http.Request, string] = SmartIP{}
	_ governor.KeyExtractor[*http.Request, string] = BearerToken{}
	_ governor.KeyNamer[string]                    = BearerToken{}
)
