//go:build ruleguard

// Package gorules contains project lint rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// RequestWithContext flags outbound requests built without a context.
// Broker calls must be bounded by the inbound request context.
//
//	req, err := http.NewRequest("GET", url, nil)
//
// Should be:
//
//	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
func RequestWithContext(m dsl.Matcher) {
	m.Match(`http.NewRequest($method, $url, $body)`).
		Report("use http.NewRequestWithContext so the call is cancelled with the caller").
		Suggest("http.NewRequestWithContext(ctx, $method, $url, $body)")
}

// DefaultHTTPClient flags use of http.DefaultClient and its helpers. It has
// no timeout; outbound traffic goes through internal/httpclient.
func DefaultHTTPClient(m dsl.Matcher) {
	m.Match(
		`http.Get($*_)`,
		`http.Post($*_)`,
		`http.Head($*_)`,
		`http.PostForm($*_)`,
		`http.DefaultClient.$_($*_)`,
	).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("use internal/httpclient instead of the default HTTP client, it has no timeout")
}

// LeakedErrorText flags handlers that write err.Error() into a response.
// Clients get public messages only; the error handler decides what is safe.
func LeakedErrorText(m dsl.Matcher) {
	m.Match(
		`$c.JSON($status, $err.Error())`,
		`$c.String($status, $err.Error())`,
		`$c.JSON($status, map[string]string{$_: $err.Error()})`,
		`$c.JSON($status, map[string]any{$_: $err.Error()})`,
	).
		Where(m["err"].Type.Is("error")).
		Report("do not send $err.Error() to clients; return the error and let the HTTP error handler map it")
}

// JoinHostPort flags host:port built with Sprintf; it breaks on IPv6 hosts.
func JoinHostPort(m dsl.Matcher) {
	m.Match(
		`fmt.Sprintf("%s:%s", $host, $port)`,
		`fmt.Sprintf("%s:%d", $host, $port)`,
	).
		Where(m["host"].Text.Matches(`(?i)host|addr`)).
		Report("use net.JoinHostPort($host, $port) for listen and dial addresses")
}
