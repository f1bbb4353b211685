package accounts

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// Identity is what an identity provider vouches for.
type Identity struct {
	Email   string
	Name    string
	Picture string
}

// IdentityVerifier checks a third-party ID token.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}

// GoogleVerifier validates Google Sign-In ID tokens for one OAuth client.
type GoogleVerifier struct {
	clientID  string
	validator *idtoken.Validator
}

// NewGoogleVerifier returns a verifier for clientID.
func NewGoogleVerifier(ctx context.Context, clientID string) (*GoogleVerifier, error) {
	if clientID == "" {
		return nil, errors.New("google client id is required")
	}
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("google validator: %w", err)
	}
	return &GoogleVerifier{clientID: clientID, validator: v}, nil
}

func (g *GoogleVerifier) Verify(ctx context.Context, raw string) (Identity, error) {
	payload, err := g.validator.Validate(ctx, raw, g.clientID)
	if err != nil {
		return Identity{}, err
	}

	claim := func(name string) string {
		s, _ := payload.Claims[name].(string)
		return s
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return Identity{}, errors.New("google email is not verified")
	}
	id := Identity{Email: claim("email"), Name: claim("name"), Picture: claim("picture")}
	if id.Email == "" {
		return Identity{}, errors.New("google token carries no email")
	}
	return id, nil
}
