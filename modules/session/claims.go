package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/guarzo/qualityapi/common/model"
)

// accessClaims mirrors what the API puts in its access tokens.
type accessClaims struct {
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// ClaimsFromToken decodes the access token WITHOUT verifying its signature. The
// server is the only verifier; the client only reads display attributes.
func ClaimsFromToken(accessToken string) (*model.Profile, time.Time, error) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode access token: %w", err)
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	return &model.Profile{Email: claims.Email, Name: claims.Name, Roles: roles}, exp, nil
}

// FromLoginResponse turns a login/refresh response into a token and profile.
// Missing profile fields and expiry are filled from the token's claims when it is a JWT.
func FromLoginResponse(resp *model.LoginResponse, now time.Time) (*oauth2.Token, *model.Profile) {
	tok := &oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   "Bearer",
	}
	if resp.ExpiresIn > 0 {
		tok.Expiry = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	profile := resp.Profile()

	fromClaims, exp, err := ClaimsFromToken(resp.AccessToken)
	if err != nil {
		// opaque token
		return tok, profile
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = exp
	}
	if profile.Email == "" {
		profile.Email = fromClaims.Email
	}
	if profile.Name == "" {
		profile.Name = fromClaims.Name
	}
	if resp.Roles == nil && len(fromClaims.Roles) > 0 {
		profile.Roles = fromClaims.Roles
	}
	return tok, profile
}
