// Package auth implements the auth-directive processor, spec.md §4.4:
// given a directive and a request, optionally exchange a session
// cookie for a bearer token with the identity service.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/protojour/arx/headers"
	"github.com/protojour/arx/httperr"
	"github.com/protojour/arx/route"
)

// SessionCookieName is the cookie the identity service issues and
// this gateway looks for, matching the one name spec §4.4 refers to
// as "the session cookie" (original_source/authentication.rs names it
// literally "session-cookie").
const SessionCookieName = "session-cookie"

// Client abstracts the identity service's opaque session-to-bearer-
// token exchange (spec §1 non-goal (b)). A nil Client is equivalent
// to "client absent" in the spec's matrix.
type Client interface {
	ExchangeSession(ctx context.Context, sessionCookie string) (bearerToken string, err error)
}

// Process applies directive to req per the matrix in spec §4.4. On
// success it may set the Authorization header on req and returns nil;
// on failure it returns an *httperr.Error (always Unauthorized for
// this processor, per spec §7).
func Process(ctx context.Context, directive route.AuthDirective, req *http.Request, client Client, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if directive == route.Disabled {
		return nil
	}

	jar := headers.ParseCookies(req)
	cookie, hasCookie := jar.Get(SessionCookieName)

	switch directive {
	case route.Mandatory:
		if client == nil || !hasCookie {
			return httperr.Unauthorized("unauthorized")
		}
		return exchangeAndSet(ctx, req, client, cookie, log)

	case route.Opportunistic:
		if client == nil || !hasCookie {
			return nil
		}
		return exchangeAndSet(ctx, req, client, cookie, log)

	default:
		return fmt.Errorf("auth: unrecognized directive %v", directive)
	}
}

func exchangeAndSet(ctx context.Context, req *http.Request, client Client, cookie string, log logrus.FieldLogger) error {
	token, err := client.ExchangeSession(ctx, cookie)
	if err != nil {
		log.WithError(err).Debug("auth: session exchange failed")
		return httperr.Unauthorized("unauthorized")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
