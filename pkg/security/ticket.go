package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTicketInvalid = errors.New("verification link is invalid or expired")

// Ticket is carried by the link in the passcode email. It identifies the
// pending verification so the form can be pre-filled, it does not replace the passcode.
type Ticket struct {
	Email     string `json:"email"`
	ListingID string `json:"listing_id"`
	Kind      string `json:"kind"`
	jwt.RegisteredClaims
}

type TicketSigner struct {
	secret []byte
}

func NewTicketSigner(secret string) *TicketSigner {
	return &TicketSigner{secret: []byte(secret)}
}

// Sign returns a HS256 token for t that expires at expiresAt
func (s *TicketSigner) Sign(t Ticket, expiresAt time.Time) (string, error) {
	if t.Email == "" || t.ListingID == "" || t.Kind == "" {
		return "", errors.New("ticket needs an email, a listing ID and a kind")
	}

	t.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   t.ListingID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, &t).SignedString(s.secret)
}

// Parse validates the signature and expiry of raw
func (s *TicketSigner) Parse(raw string) (*Ticket, error) {
	var t Ticket

	_, err := jwt.ParseWithClaims(raw, &t, func(tok *jwt.Token) (any, error) {
		if tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", tok.Method.Alg())
		}

		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w, %w", ErrTicketInvalid, err)
	}

	return &t, nil
}
