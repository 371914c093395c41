package model

import "time"

// Persisted settings keys for the credential fields. They are always written and cleared together.
const (
	SettingBearer       = "client_bearer"
	SettingExpiration   = "client_expiration"
	SettingRefreshToken = "client_refresh_token"
	SettingDeviceID     = "device_id"
)

// CredentialKeys lists every settings key owned by the credential manager.
var CredentialKeys = []string{SettingBearer, SettingExpiration, SettingRefreshToken}

// Credential is the bearer/refresh token pair of the signed-in user.
type Credential struct {
	BearerToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Usable reports whether the bearer token may still be sent at now.
func (c Credential) Usable(now time.Time) bool {
	return c.BearerToken != "" && now.Before(c.ExpiresAt)
}

// TokenResponse is the token endpoint's JSON body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// ClientCredentials identifies this application to the token and resource endpoints.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// LoginResult is the outcome of a username/password exchange.
type LoginResult int

const (
	// LoginError means the exchange could not be completed (transport or parse failure).
	LoginError LoginResult = iota
	// LoginSuccess means a token was issued and persisted.
	LoginSuccess
	// LoginFailure means the token endpoint rejected the credentials.
	LoginFailure
)

func (r LoginResult) String() string {
	switch r {
	case LoginSuccess:
		return "success"
	case LoginFailure:
		return "failure"
	default:
		return "error"
	}
}
