package fetch

import (
	"errors"
	"net/url"
	"strings"
)

// Query parameters commonly abused for open redirects.
var redirectParams = []string{
	"redirect", "redirect_uri", "url", "next", "return",
	"returnto", "continue", "dest", "destination",
}

// Validate checks that rawURL is an absolute https URL that does not carry an
// off-origin redirect parameter.
func Validate(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &TransportError{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &TransportError{Kind: KindInvalidURL, URL: rawURL, Err: errors.New("url must be absolute")}
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return nil, &TransportError{Kind: KindInsecureScheme, URL: rawURL}
	}

	for name, vals := range u.Query() {
		if !isRedirectParam(name) {
			continue
		}
		for _, v := range vals {
			if offOrigin(v, u.Hostname()) {
				return nil, &TransportError{
					Kind: KindOpenRedirect,
					URL:  rawURL,
					Err:  errors.New("query parameter " + name + " points to another host"),
				}
			}
		}
	}
	return u, nil
}

func isRedirectParam(name string) bool {
	n := strings.ToLower(name)
	for _, p := range redirectParams {
		if n == p {
			return true
		}
	}
	return false
}

func offOrigin(v, host string) bool {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "//") {
		v = "https:" + v
	}
	t, err := url.Parse(v)
	if err != nil || t.Host == "" {
		return false
	}
	return !strings.EqualFold(t.Hostname(), host)
}
