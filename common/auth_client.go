package common

import (
	"context"

	"github.com/guarzo/qualityapi/common/model"
)

// TokenRenewer exchanges the ambient renewal credential (the refresh cookie) for a new
// access token and profile. It must never attach the expired access token.
type TokenRenewer interface {
	// RenewToken returns the login-shaped renewal response, or an error if renewal fails.
	RenewToken(ctx context.Context) (*model.LoginResponse, error)
}
