// Package auth resolves the identity a request's quota is tracked against:
// an authenticated user ID taken from the Supabase-issued JWT, or a salted
// hash of the client IP for anonymous traffic.
package auth

import (
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/blake2b"

	"presto/internal/types"
)

// Resolver turns an incoming request into an Identity.
type Resolver struct {
	// jwtSecret is the Supabase project JWT secret (HS256).
	jwtSecret []byte
	// ipSalt keys the BLAKE2b hash of anonymous client IPs so raw addresses
	// never appear in counters or logs.
	ipSalt []byte
}

// NewResolver creates a Resolver. Both secrets are required; the salt must be
// at most 64 bytes (BLAKE2b key limit), which config validation guarantees.
func NewResolver(jwtSecret, ipSalt string) *Resolver {
	return &Resolver{
		jwtSecret: []byte(jwtSecret),
		ipSalt:    []byte(ipSalt),
	}
}

// claims is the subset of the Supabase access token we care about.
type claims struct {
	jwt.StandardClaims
}

// FromRequest resolves the request's identity.
//
// With a Bearer token present, the token must verify and carry a subject;
// a malformed or expired token is an auth failure, never a silent downgrade
// to IP counting. Without a token, the request is anonymous and is tracked
// against the salted hash of its client IP.
func (r *Resolver) FromRequest(req *http.Request) (types.Identity, error) {
	header := req.Header.Get("Authorization")
	if header == "" {
		return r.anonymous(req), nil
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return types.Identity{}, types.NewAppError(
			types.ErrCodeAuthTokenInvalid, "malformed Authorization header", nil)
	}

	userID, err := r.userIDFromToken(raw)
	if err != nil {
		return types.Identity{}, err
	}
	return types.Identity{Kind: types.IdentityUser, Key: userID}, nil
}

// userIDFromToken verifies the HS256 signature and returns the sub claim.
func (r *Resolver) userIDFromToken(raw string) (string, error) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, types.NewAppError(
				types.ErrCodeAuthTokenInvalid, "unexpected signing method", nil)
		}
		return r.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", types.NewAppError(
			types.ErrCodeAuthTokenInvalid, "invalid or expired token", err)
	}
	if c.Subject == "" {
		return "", types.NewAppError(
			types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}
	return c.Subject, nil
}

// anonymous builds an IP-keyed identity for unauthenticated requests.
func (r *Resolver) anonymous(req *http.Request) types.Identity {
	return types.Identity{
		Kind: types.IdentityAnonIP,
		Key:  r.HashIP(ClientIP(req)),
	}
}

// HashIP returns the salted BLAKE2b-256 hash of an IP address, hex encoded.
// The same helper keys the degraded-mode fallback map so its entries line up
// with anonymous identities.
func (r *Resolver) HashIP(ip string) string {
	h, err := blake2b.New256(r.ipSalt)
	if err != nil {
		// Only reachable with a salt over 64 bytes, which config rejects.
		panic(err)
	}
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}

// ClientIP extracts the originating client IP. Serverless deployments sit
// behind a trusted proxy, so the first X-Forwarded-For hop wins; otherwise
// fall back to the socket address.
func ClientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
