package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/steadyops/steward/pkg/models"
)

// Token type claims.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// MaxSignedURLTTL caps how long a signed URL stays valid.
const MaxSignedURLTTL = 15 * time.Minute

// TokenClaims is the decoded identity carried by an access or refresh token.
type TokenClaims struct {
	UserID   string
	Email    string
	Fullname string
	Role     string
	IsActive bool
	Type     string
}

// TokenService issues and verifies JWTs and HMAC-signed URLs.
type TokenService struct {
	secret        []byte
	method        jwt.SigningMethod
	accessExpire  time.Duration
	refreshExpire time.Duration
}

// NewTokenService creates a TokenService. algorithm names a JWT HMAC signing
// method ("HS256", "HS384", "HS512"); anything else falls back to HS256.
func NewTokenService(secret, algorithm string, accessExpire, refreshExpire time.Duration) *TokenService {
	method := jwt.GetSigningMethod(strings.ToUpper(algorithm))
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	return &TokenService{
		secret:        []byte(secret),
		method:        method,
		accessExpire:  accessExpire,
		refreshExpire: refreshExpire,
	}
}

// CreateAccessToken issues a short-lived token carrying the user identity.
func (s *TokenService) CreateAccessToken(user *models.User) (string, error) {
	return s.createToken(user, tokenTypeAccess, s.accessExpire)
}

// CreateRefreshToken issues the long-lived token used to mint new access
// tokens.
func (s *TokenService) CreateRefreshToken(user *models.User) (string, error) {
	return s.createToken(user, tokenTypeRefresh, s.refreshExpire)
}

func (s *TokenService) createToken(user *models.User, tokenType string, expire time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(s.method, jwt.MapClaims{
		"sub":       user.ID,
		"email":     user.Email,
		"fullname":  user.Fullname,
		"role":      string(user.Role),
		"is_active": user.IsActive,
		"type":      tokenType,
		"iat":       now.Unix(),
		"exp":       now.Add(expire).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken validates an access token and returns its claims.
func (s *TokenService) VerifyAccessToken(tokenString string) (*TokenClaims, error) {
	return s.verify(tokenString, tokenTypeAccess)
}

// VerifyRefreshToken validates a refresh token and returns its claims.
func (s *TokenService) VerifyRefreshToken(tokenString string) (*TokenClaims, error) {
	return s.verify(tokenString, tokenTypeRefresh)
}

func (s *TokenService) verify(tokenString, wantType string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{s.method.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	tc := &TokenClaims{
		UserID:   claimString(claims, "sub"),
		Email:    claimString(claims, "email"),
		Fullname: claimString(claims, "fullname"),
		Role:     claimString(claims, "role"),
		Type:     claimString(claims, "type"),
	}
	if v, ok := claims["is_active"].(bool); ok {
		tc.IsActive = v
	}
	if tc.Type != wantType {
		return nil, fmt.Errorf("%w: wrong token type %q", ErrUnauthorized, tc.Type)
	}
	if tc.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}
	return tc, nil
}

// SignURL appends expires and signature parameters to pathAndQuery. The TTL
// is clamped to MaxSignedURLTTL. The input must be the server-relative path
// (plus any query) exactly as the client will request it.
func (s *TokenService) SignURL(pathAndQuery string, ttl time.Duration) string {
	if ttl <= 0 || ttl > MaxSignedURLTTL {
		ttl = MaxSignedURLTTL
	}
	expires := time.Now().UTC().Add(ttl).Unix()
	sep := "?"
	if strings.Contains(pathAndQuery, "?") {
		sep = "&"
	}
	unsigned := fmt.Sprintf("%s%sexpires=%d", pathAndQuery, sep, expires)
	return unsigned + "&signature=" + s.signature(unsigned)
}

// VerifySignedURL checks the signature and expiry of a previously signed
// URL. rawURL must contain path and query; host and scheme are ignored.
func (s *TokenService) VerifySignedURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: malformed url", ErrUnauthorized)
	}
	query := u.Query()
	sig := query.Get("signature")
	if sig == "" {
		return fmt.Errorf("%w: missing signature", ErrUnauthorized)
	}
	expires, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: missing expiry", ErrUnauthorized)
	}
	if time.Now().UTC().Unix() > expires {
		return fmt.Errorf("%w: url expired", ErrUnauthorized)
	}

	// Strip the signature parameter, preserving the original order of the
	// remaining query so the signed bytes are reproduced exactly.
	rawQuery := u.RawQuery
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, p := range parts {
		if !strings.HasPrefix(p, "signature=") {
			kept = append(kept, p)
		}
	}
	unsigned := u.Path
	if len(kept) > 0 {
		unsigned += "?" + strings.Join(kept, "&")
	}
	if !hmac.Equal([]byte(s.signature(unsigned)), []byte(sig)) {
		return fmt.Errorf("%w: bad signature", ErrUnauthorized)
	}
	return nil
}

func (s *TokenService) signature(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
