package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/deployops/approval-gate/pkg/config"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

// LinkService signs and verifies the tokens embedded in web decision links.
// A link proves the bearer was handed it by a notification for exactly one
// approval; the permission check on the named user still runs at decision
// time.
type LinkService struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
}

type linkClaims struct {
	jwt.RegisteredClaims
}

// NewLinkService wires the signer.
func NewLinkService(cfg config.LinksConfig, baseURL string) *LinkService {
	return &LinkService{
		secret:  []byte(cfg.Secret),
		ttl:     cfg.TTL,
		baseURL: baseURL,
	}
}

// Sign issues a token bound to one approval id.
func (s *LinkService) Sign(approvalID string) (string, error) {
	now := time.Now()
	claims := linkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   approvalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign decision link: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature, expiry and approval binding.
func (s *LinkService) Verify(tokenString, approvalID string) error {
	claims := &linkClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return appErrors.Clone(appErrors.ErrUnauthorized, "decision link is invalid or expired")
	}
	if claims.Subject != approvalID {
		return appErrors.Clone(appErrors.ErrUnauthorized, "decision link does not match this approval")
	}
	return nil
}

// DecisionURL builds the web decision page URL for one approval. On a
// signing error the URL is emitted without a token and the page will ask
// the user to decide through chat instead.
func (s *LinkService) DecisionURL(approvalID string) string {
	token, err := s.Sign(approvalID)
	if err != nil {
		return fmt.Sprintf("%s/approve/%s", s.baseURL, approvalID)
	}
	return fmt.Sprintf("%s/approve/%s?token=%s", s.baseURL, approvalID, token)
}
