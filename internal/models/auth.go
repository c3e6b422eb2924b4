package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims carries the session principal issued at login.
type JWTClaims struct {
	UserID       string   `json:"uid"`
	Email        string   `json:"email"`
	FullName     string   `json:"name"`
	Role         UserRole `json:"role"`
	DepartmentID string   `json:"dept,omitempty"`
	SupervisorID string   `json:"sup,omitempty"`
	jwt.RegisteredClaims
}

// Principal projects the claims into the access layer's identity value.
func (c *JWTClaims) Principal() Principal {
	return Principal{
		ID:           c.UserID,
		Role:         c.Role,
		DepartmentID: c.DepartmentID,
		SupervisorID: c.SupervisorID,
	}
}

// LoginRequest is the credential payload for token issuance.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginResponse returns the issued access token and user profile.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	User        *User  `json:"user"`
}
