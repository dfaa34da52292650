// CORS middleware, grounded on halimath-httputils/cors/cors.go's
// Endpoint/Middleware shape, adapted from a per-endpoint-list config
// into the single process-wide configuration surface spec.md §6
// names (cors_allow_origin, cors_allow_methods, ...).
package gateway

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig is the configuration surface spec §6 names for the CORS
// layer. AllowMethods/AllowHeaders containing a single "*" element
// mean "any", per spec.
type CORSConfig struct {
	AllowOrigin           []string
	AllowMethods          []string
	AllowHeaders          []string
	ExposeHeaders         []string
	AllowCredentials      bool
	AllowPrivateNetwork   bool
	MaxAge                int
}

const wildcard = "*"

func (c CORSConfig) allowsOrigin(origin string) (string, bool) {
	if len(c.AllowOrigin) == 0 {
		return wildcard, true
	}
	for _, o := range c.AllowOrigin {
		if o == wildcard {
			return wildcard, true
		}
		if o == origin {
			return origin, true
		}
	}
	return "", false
}

// CORSMiddleware wraps handler with the standard CORS request/
// response header handling described in spec §6: a preflight request
// (OPTIONS with Access-Control-Request-Method) is answered directly
// and not forwarded; every cross-origin response gets the
// Access-Control-Allow-* headers the config calls for.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowOrigin, ok := cfg.allowsOrigin(origin)
			if ok {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
				if allowOrigin != wildcard {
					w.Header().Add("Vary", "Origin")
				}
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if len(cfg.ExposeHeaders) > 0 {
					w.Header().Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposeHeaders, ", "))
				}
			}

			if isPreflight(r) {
				if ok {
					w.Header().Set("Access-Control-Allow-Methods", joinOrWildcard(cfg.AllowMethods, r.Header.Get("Access-Control-Request-Method")))
					w.Header().Set("Access-Control-Allow-Headers", joinOrWildcard(cfg.AllowHeaders, r.Header.Get("Access-Control-Request-Headers")))
					if cfg.AllowPrivateNetwork && r.Header.Get("Access-Control-Request-Private-Network") == "true" {
						w.Header().Set("Access-Control-Allow-Private-Network", "true")
					}
					if cfg.MaxAge > 0 {
						w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// joinOrWildcard returns "*" when allowed contains exactly that
// wildcard entry (spec §6: "* means any"); otherwise the configured
// list joined for the response header, falling back to echoing the
// request's own requested value when allowed is empty.
func joinOrWildcard(allowed []string, requested string) string {
	if len(allowed) == 1 && allowed[0] == wildcard {
		return wildcard
	}
	if len(allowed) == 0 {
		return requested
	}
	return strings.Join(allowed, ", ")
}
