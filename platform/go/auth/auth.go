package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type ctxKey string

const (
	ctxCredentials ctxKey = "MODDY_CREDENTIALS"
)

// Credentials identify the calling service and, when it acts for someone,
// the Discord user on whose behalf the call is made.
type Credentials struct {
	Subject string
	ActorID *int64
	IsStaff bool
}

func CredentialsFromContext(ctx context.Context) (*Credentials, bool) {
	v := ctx.Value(ctxCredentials)
	if v == nil {
		return nil, false
	}
	c, ok := v.(*Credentials)
	return c, ok
}

// WithCredentials stores creds on ctx. Used by the middleware and by tests.
func WithCredentials(ctx context.Context, creds *Credentials) context.Context {
	return context.WithValue(ctx, ctxCredentials, creds)
}

// VerifyFunc validates the incoming JWT and returns its claims map.
type VerifyFunc func(ctx context.Context, token string) (map[string]interface{}, error)

// ExtractFunc converts a claims map into Credentials.
type ExtractFunc func(claims map[string]interface{}) (*Credentials, error)

// JWT parses the bearer token and sets the context credentials using the provided verify/extract functions.
// Requests without a token pass through unauthenticated; use RequireCredentials to reject them.
func JWT(verify VerifyFunc, extract ExtractFunc) func(http.Handler) http.Handler {
	if verify == nil {
		panic("auth.JWT: verify func must not be nil")
	}
	if extract == nil {
		extract = DefaultCredentialExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, found := ExtractJWTToken(r)
			if token == "" || !found {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verify(r.Context(), token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="internal", error="invalid_token", error_description=%q`, err.Error()))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			creds, err := extract(claims)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="internal", error="invalid_token", error_description="invalid claims"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCredentials(r.Context(), creds)))
		})
	}
}

// DefaultCredentialExtractor reads sub, actor_id and staff.
// actor_id may be a JSON number or a decimal string (Discord snowflakes exceed float precision).
func DefaultCredentialExtractor(claims map[string]interface{}) (*Credentials, error) {
	if claims == nil {
		return nil, errors.New("missing claims")
	}

	subject := extractStringClaim(claims, "sub")
	if subject == "" {
		return nil, errors.New("sub claim is required")
	}

	actorID, err := extractSnowflakeClaim(claims, "actor_id")
	if err != nil {
		return nil, err
	}

	return &Credentials{
		Subject: subject,
		ActorID: actorID,
		IsStaff: extractBoolClaim(claims, "staff"),
	}, nil
}

// RequireCredentials rejects requests that carry no verified token.
func RequireCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if creds, ok := CredentialsFromContext(r.Context()); !ok || creds == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="internal"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole gates endpoints by role. Only "staff" is known.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := CredentialsFromContext(r.Context())
			if !ok || creds == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			switch role {
			case "staff":
				if !creds.IsStaff {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractBoolClaim(claims map[string]interface{}, key string) bool {
	if v, ok := claims[key]; ok {
		if boolVal, valid := v.(bool); valid {
			return boolVal
		}
	}
	return false
}

func extractStringClaim(claims map[string]interface{}, key string) string {
	if v, ok := claims[key]; ok {
		if strVal, valid := v.(string); valid {
			return strVal
		}
	}
	return ""
}

func extractSnowflakeClaim(claims map[string]interface{}, key string) (*int64, error) {
	v, ok := claims[key]
	if !ok || v == nil {
		return nil, nil
	}

	var id int64
	switch val := v.(type) {
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s claim: %w", key, err)
		}
		id = parsed
	case float64:
		id = int64(val)
	case int64:
		id = val
	default:
		return nil, fmt.Errorf("%s claim has unsupported type %T", key, v)
	}
	if id <= 0 {
		return nil, fmt.Errorf("%s claim must be positive", key)
	}
	return &id, nil
}
