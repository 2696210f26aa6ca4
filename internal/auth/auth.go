package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Service verifies session tokens issued by the identity provider and
// mints development tokens signed with the same secret.
type Service struct {
	jwtSecret string
	issuer    string
	tokenTTL  time.Duration
}

// Claims is the identity-provider token payload. Subject carries the
// stable identity key.
type Claims struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the profile a token asserts.
type Identity struct {
	Key     string
	Name    string
	Email   string
	Picture *string
}

// Identity extracts the asserted profile from the claims.
func (c *Claims) Identity() Identity {
	id := Identity{Key: c.Subject, Name: c.Name, Email: c.Email}
	if c.Picture != "" {
		picture := c.Picture
		id.Picture = &picture
	}
	if id.Name == "" {
		id.Name = id.Email
	}
	return id
}

func New(jwtSecret, issuer string) *Service {
	return NewWithTokenTTL(jwtSecret, issuer, 24*time.Hour)
}

func NewWithTokenTTL(jwtSecret, issuer string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		jwtSecret: jwtSecret,
		issuer:    issuer,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) GenerateToken(id Identity) (string, error) {
	if strings.TrimSpace(id.Key) == "" {
		return "", fmt.Errorf("identity key is required")
	}

	claims := Claims{
		Name:  id.Name,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Key,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if id.Picture != nil {
		claims.Picture = *id.Picture
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	var opts []jwt.ParserOption
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, opts...)

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("invalid token claims: missing subject")
	}

	return claims, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret, the format of the
// identity provider's webhook signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body. An optional
// "sha256=" prefix is accepted.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}
