package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	corsAllowedHeaders = "Authorization, Content-Type, X-Request-ID"
	corsAllowedMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsExposedHeaders = "X-Request-ID, Retry-After"
	corsMaxAge         = "600"
)

// OriginPolicy decides which browser origins may call the API or open a
// realtime socket. Entries are exact origins ("https://portal.firm.example"),
// subdomain patterns ("https://*.firm.example") or "*".
type OriginPolicy struct {
	any      bool
	exact    map[string]struct{}
	suffixes []originSuffix
}

type originSuffix struct {
	scheme string
	host   string // ".firm.example"
}

// NewOriginPolicy parses the configured origins. Blank entries are ignored.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{exact: map[string]struct{}{}}
	for _, raw := range origins {
		raw = strings.TrimSpace(raw)
		switch {
		case raw == "":
		case raw == "*":
			p.any = true
		case strings.Contains(raw, "://*."):
			scheme, host, _ := strings.Cut(strings.ToLower(strings.TrimRight(raw, "/")), "://*")
			p.suffixes = append(p.suffixes, originSuffix{scheme: scheme, host: host})
		default:
			if origin, ok := normalizeOrigin(raw); ok {
				p.exact[origin] = struct{}{}
			}
		}
	}
	return p
}

// Empty reports whether no origin is configured.
func (p *OriginPolicy) Empty() bool {
	return !p.any && len(p.exact) == 0 && len(p.suffixes) == 0
}

// Allows reports whether origin matches the policy.
func (p *OriginPolicy) Allows(origin string) bool {
	if p.any {
		return strings.TrimSpace(origin) != ""
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if _, ok := p.exact[normalized]; ok {
		return true
	}
	scheme, host, _ := strings.Cut(normalized, "://")
	for _, s := range p.suffixes {
		if scheme == s.scheme && strings.HasSuffix(host, s.host) && len(host) > len(s.host) {
			return true
		}
	}
	return false
}

// normalizeOrigin lowercases scheme and host and drops any path.
func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// CORS answers preflights and decorates responses for origins the policy allows.
// Preflights from other origins are refused with 403 so the browser surfaces the
// block instead of a confusing method error.
func CORS(policy *OriginPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !policy.Allows(origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
