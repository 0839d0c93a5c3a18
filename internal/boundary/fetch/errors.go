package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure.
type Kind string

const (
	KindInvalidURL     Kind = "invalid_url"
	KindInsecureScheme Kind = "insecure_scheme"
	KindOpenRedirect   Kind = "open_redirect"
	KindTimeout        Kind = "timeout"
	KindStatus         Kind = "status"
	KindTooLarge       Kind = "too_large"
	KindNetwork        Kind = "network"
)

// TransportError is returned for every failure that happens before a payload
// body is available. Status is only set for KindStatus.
type TransportError struct {
	Kind   Kind
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Kind == KindStatus:
		return fmt.Sprintf("fetch %s: upstream status %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *TransportError of kind k.
func IsKind(err error, k Kind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == k
}
