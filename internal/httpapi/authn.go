package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"fraudnet.ai/internal/auth"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	apiKeyHeader = "X-API-Key"
)

// authenticate resolves the caller from either a bearer access token or an
// API key. Both paths land in the same CallerContext, so everything after
// this point is credential-agnostic.
func (a *API) authenticate(r *http.Request) (auth.CallerContext, error) {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return a.session.ResolveAPIKey(r.Context(), key)
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return auth.CallerContext{}, err
	}
	return a.session.Verify(r.Context(), token)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
