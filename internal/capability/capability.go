// Package capability realizes the spec §7 Permission error class for
// reload_config as a signed JWT bearer capability token.
package capability

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrPermissionDenied is returned for a missing, expired, or badly-signed
// token (spec §7's Permission error class).
var ErrPermissionDenied = errors.New("capability: permission denied")

const controlClaim = "control"

// Minter mints and verifies the "control capability" token required by
// reload_config.
type Minter struct {
	key []byte
}

// NewMinter returns a Minter signing/verifying with key.
func NewMinter(key []byte) *Minter {
	return &Minter{key: key}
}

// Mint issues a control-capability token valid for ttl.
func (m *Minter) Mint(ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		controlClaim: true,
		"exp":        time.Now().Add(ttl).Unix(),
		"iat":        time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.key)
}

// Verify checks tokenString and returns ErrPermissionDenied if it is
// missing, expired, or badly signed, or doesn't carry the control claim.
func (m *Minter) Verify(tokenString string) error {
	if tokenString == "" {
		return ErrPermissionDenied
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.key, nil
	})
	if err != nil || !token.Valid {
		return ErrPermissionDenied
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrPermissionDenied
	}
	if ok, _ := claims[controlClaim].(bool); !ok {
		return ErrPermissionDenied
	}
	return nil
}
