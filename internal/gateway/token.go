package gateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MintClientToken issues a signed client token pointing at this gateway's
// configuration endpoint. The engine itself never verifies the signature;
// signing keeps the sandbox honest about what a real backend would hand out.
func (g *Gateway) MintClientToken(ttl time.Duration) (string, error) {
	g.mu.Lock()
	base := g.baseURL
	g.mu.Unlock()
	if base == "" {
		return "", fmt.Errorf("gateway base URL is not set")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"configurationUrl": base + "/client-session",
		"accessToken":      "access_" + uuid.NewString(),
		"accountId":        g.cfg.AccountID,
		"iat":              now.Unix(),
		"exp":              now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(g.cfg.SigningSecret))
	if err != nil {
		return "", fmt.Errorf("signing client token: %w", err)
	}
	return signed, nil
}
