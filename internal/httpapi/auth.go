// Package httpapi implements the HTTP surface of spec §6: the chat
// endpoints, session listing/deletion, and CSV downloads, wired to the
// internal/graph workflow. Grounded on api/handlers/auth_middleware.go's
// Bearer-token extraction and api/main.go's router-construction block
// from the teacher pack.
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const adminIDContextKey contextKey = "admin_id"

// Authentication, admin profile, and account provisioning are out of
// scope for this core (spec §1); the core only depends on an opaque
// integer admin identity carried by a bearer token it can verify without
// a database round trip. Tokens are HMAC-signed rather than JWT because
// no example repo in the retrieval pack pulls in a JWT library for this
// shape of need — a two-field signed token is the smallest thing that
// satisfies spec §6's "access-token secret/algorithm/TTL" configuration
// surface, so stdlib crypto/hmac is used directly instead of adding an
// unexercised dependency.
const tokenAlgoHS256 = "HS256"

// IssueToken mints an opaque bearer token encoding adminID, signed with
// secret and valid for ttl. Tokens are always signed with HMAC-SHA256
// (HS256); internal/config rejects any other ACCESS_TOKEN_ALGORITHM value
// at Load time.
func IssueToken(secret string, ttl time.Duration, adminID int64) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("httpapi: access token secret is not configured")
	}
	expiry := time.Now().Add(ttl).Unix()
	payload := fmt.Sprintf("%d.%d", adminID, expiry)
	sig := sign(secret, payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + sig, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyToken decodes and validates a token minted by IssueToken,
// returning the admin id it encodes.
func verifyToken(secret, token string) (int64, error) {
	if secret == "" {
		return 0, fmt.Errorf("httpapi: access token secret is not configured")
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("httpapi: malformed token")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return 0, fmt.Errorf("httpapi: malformed token payload")
	}
	payload := string(payloadBytes)
	wantSig := sign(secret, payload)
	if subtle.ConstantTimeCompare([]byte(wantSig), []byte(parts[1])) != 1 {
		return 0, fmt.Errorf("httpapi: invalid token signature")
	}

	fields := strings.SplitN(payload, ".", 2)
	if len(fields) != 2 {
		return 0, fmt.Errorf("httpapi: malformed token payload")
	}
	adminID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("httpapi: malformed admin id")
	}
	expiry, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("httpapi: malformed expiry")
	}
	if time.Now().Unix() > expiry {
		return 0, fmt.Errorf("httpapi: token expired")
	}
	return adminID, nil
}

// extractBearerToken mirrors auth_middleware.go's header extraction,
// additionally accepting a ?token= query parameter as spec §6's download
// endpoint requires ("accepts either Authorization: Bearer ... or ?token=...").
func extractBearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// RequireAuth returns 401 for any request without a valid bearer token,
// and attaches the decoded admin id to the request context otherwise
// (spec §6: "authenticated; identity is an integer admin id").
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			adminID, err := verifyToken(secret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), adminIDContextKey, adminID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminIDFromContext returns the authenticated admin id, or (0, false)
// if the request was not authenticated.
func AdminIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(adminIDContextKey).(int64)
	return id, ok
}

// clientIP extracts the caller's address for access logging, grounded on
// api/handlers/auth_middleware.go's GetIPFromRequest.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
