package flow

import (
	"net/url"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
)

// RedirectError is an authorize failure detected after the redirect URI
// was validated. It is reported to the client by redirecting rather than
// by rendering an error page.
type RedirectError struct {
	RedirectURI string
	State       string
	Err         error
}

func (e *RedirectError) Error() string { return e.Err.Error() }

func (e *RedirectError) Unwrap() error { return e.Err }

// Location returns the redirect target carrying error, error_description,
// state and iss.
func (e *RedirectError) Location(issuer string) string {
	kind := apperrors.KindOf(e.Err)

	desc := "internal server error"
	if apperrors.IsClientError(e.Err) {
		desc = e.Err.Error()
	}

	q := url.Values{}
	q.Set("error", kind.OAuth)
	q.Set("error_description", desc)

	if e.State != "" {
		q.Set("state", e.State)
	}

	if issuer != "" {
		q.Set("iss", issuer)
	}

	return appendQuery(e.RedirectURI, q)
}

// appendQuery merges params into the query of base, keeping any query
// the client registered with the redirect URI.
func appendQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}

	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}

	u.RawQuery = q.Encode()

	return u.String()
}
