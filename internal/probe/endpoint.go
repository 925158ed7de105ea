package probe

import (
	"encoding/base64"
	"net/http"
	"sort"
)

// AppTokenHeader carries the static application token checked by the
// tunnel server alongside basic auth.
const AppTokenHeader = "X-APP-TOKEN"

// protocolHeaders are generated by the WebSocket client during the opening
// handshake. Supplying them again makes the dial fail, so they are dropped.
var protocolHeaders = map[string]struct{}{
	"Upgrade":                  {},
	"Connection":               {},
	"Sec-Websocket-Key":        {},
	"Sec-Websocket-Version":    {},
	"Sec-Websocket-Extensions": {},
}

// Credentials are the static values placed on the upgrade request.
type Credentials struct {
	Username string
	Password string
	AppToken string
	Extra    map[string]string
}

// Endpoint is the probe target: a WebSocket URL and the headers sent with
// the upgrade request. Treat it as immutable; use Clone to derive variants.
type Endpoint struct {
	URL    string
	Header http.Header
}

// NewEndpoint builds the handshake headers for rawURL from creds.
func NewEndpoint(rawURL string, creds Credentials) Endpoint {
	header := http.Header{}

	names := make([]string, 0, len(creds.Extra))
	for name := range creds.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		header.Set(name, creds.Extra[name])
	}

	if creds.Username != "" {
		header.Set("Authorization", BasicAuth(creds.Username, creds.Password))
	}
	if creds.AppToken != "" {
		header.Set(AppTokenHeader, creds.AppToken)
	}

	return Endpoint{URL: rawURL, Header: header}
}

// BasicAuth returns the Authorization header value for username:password.
func BasicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func (e Endpoint) Clone() Endpoint {
	return Endpoint{URL: e.URL, Header: e.Header.Clone()}
}

// HandshakeHeader returns a copy of h without the protocol-managed headers,
// along with the canonical names that were removed.
func HandshakeHeader(h http.Header) (http.Header, []string) {
	clean := http.Header{}
	var dropped []string
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if _, managed := protocolHeaders[canonical]; managed {
			dropped = append(dropped, canonical)
			continue
		}
		clean[canonical] = append([]string(nil), values...)
	}
	sort.Strings(dropped)
	return clean, dropped
}
