package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/immigration-casework/internal/caller"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

// CallerClaims is the token shape accepted by CallerAuth. HS256 tokens carry roles directly;
// Cognito tokens carry them as groups.
type CallerClaims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email"`
	Roles         []string `json:"roles"`
	CognitoGroups []string `json:"cognito:groups"`
	TokenUse      string   `json:"token_use"`
	ClientID      string   `json:"client_id"`
}

// Caller converts verified claims into the identity the services consume.
func (c *CallerClaims) Caller() caller.Caller {
	roles := append(append([]string(nil), c.Roles...), c.CognitoGroups...)
	return caller.New(c.Subject, c.Email, roles...)
}

// AuthConfig configures CallerAuth. At least one of Secret or Cognito must be set.
type AuthConfig struct {
	Secret  string
	Issuer  string
	Cognito CognitoConfig
}

// CallerAuth verifies the bearer token and stores the caller in the request context.
// WebSocket upgrades may pass the token as the access_token query parameter.
func CallerAuth(cfg AuthConfig, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	var cognito *cognitoVerifier
	if cfg.Cognito.Enabled() {
		cognito = newCognitoVerifier(cfg.Cognito)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				writeAuthError(w, "missing authorization header")
				return
			}

			var claims *CallerClaims
			var err error
			if cognito != nil && looksLikeRS256(tokenString) {
				claims, err = cognito.Verify(r.Context(), tokenString)
			} else {
				claims, err = verifyHS256(tokenString, cfg)
			}
			if err != nil {
				logger.Debug("auth: token rejected", "error", err, "path", r.URL.Path)
				writeAuthError(w, "invalid token")
				return
			}

			who := claims.Caller()
			if !who.Authenticated() {
				writeAuthError(w, "token has no subject")
				return
			}
			ctx := caller.WithCaller(r.Context(), who)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers lacking every listed role with 403.
func RequireRole(roles ...caller.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, ok := caller.FromContext(r.Context())
			if !ok {
				writeAuthError(w, "unauthenticated")
				return
			}
			if !who.HasRole(roles...) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden", "message": "insufficient role"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifyHS256(tokenString string, cfg AuthConfig) (*CallerClaims, error) {
	if cfg.Secret == "" {
		return nil, jwt.ErrTokenUnverifiable
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &CallerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

// looksLikeRS256 peeks at the unverified header; Cognito tokens are RS256 with a kid.
func looksLikeRS256(tokenString string) bool {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &CallerClaims{})
	if err != nil {
		return false
	}
	alg, _ := token.Header["alg"].(string)
	_, hasKid := token.Header["kid"]
	return alg == "RS256" && hasKid
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated", "message": message})
}
