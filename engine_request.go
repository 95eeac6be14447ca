package goCred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/MrEthical07/goCred/transport"
)

// Wire paths.
const (
	pathSignUp             = "/v1/accounts:signUp"
	pathSignInWithPassword = "/v1/accounts:signInWithPassword"
	pathSignInWithCustom   = "/v1/accounts:signInWithCustomToken"
	pathSendOobCode        = "/v1/accounts:sendOobCode"
	pathDelete             = "/v1/accounts:delete"
	pathSecureToken        = "/v1/token"
	pathOAuth2Token        = "/token"

	grantTypeJWTBearer    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	grantTypeRefreshToken = "refresh_token"
)

type passwordBody struct {
	Email             string `json:"email,omitempty"`
	Password          string `json:"password,omitempty"`
	ReturnSecureToken string `json:"returnSecureToken"`
}

type customTokenBody struct {
	Token             string `json:"token"`
	ReturnSecureToken string `json:"returnSecureToken"`
}

type secureTokenBody struct {
	GrantType    string `json:"grantType"`
	RefreshToken string `json:"refreshToken"`
}

type oobCodeBody struct {
	RequestType string `json:"requestType"`
	IDToken     string `json:"idToken,omitempty"`
	Email       string `json:"email,omitempty"`
}

type deleteBody struct {
	IDToken string `json:"idToken"`
}

type jwtBearerBody struct {
	GrantType string `json:"grant_type"`
	Assertion string `json:"assertion"`
}

type oauthRefreshBody struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

func slotOptions(timeout time.Duration) transport.SlotOptions {
	return transport.SlotOptions{Timeout: timeout}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// buildRequestLocked picks endpoint and body from the credential kind and task.
func (e *Engine) buildRequestLocked() (transport.Request, error) {
	cred := e.auth.Credential
	hosts := e.config.Hosts
	keyQuery := url.Values{"key": {e.config.APIKey}}.Encode()

	var (
		host, path, query string
		body              any
	)

	switch {
	case cred.Kind == KindServiceAccountAccess:
		host, path = hosts.OAuth2, pathOAuth2Token
		body = jwtBearerBody{GrantType: grantTypeJWTBearer, Assertion: e.signer.Token()}

	case cred.Kind == KindServiceAccountCustom:
		host, path, query = hosts.IdentityToolkit, pathSignInWithCustom, keyQuery
		body = customTokenBody{Token: e.signer.Token(), ReturnSecureToken: "true"}

	case cred.Kind == KindAccessToken:
		if cred.RefreshToken == "" {
			return transport.Request{}, fmt.Errorf("%w: access token refresh needs a refresh token", ErrInvalidCredential)
		}
		host, path = hosts.OAuth2, pathOAuth2Token
		body = oauthRefreshBody{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			GrantType:    grantTypeRefreshToken,
			RefreshToken: cred.RefreshToken,
		}

	case cred.Kind == KindCustomToken && e.auth.Task != TaskRefreshToken:
		if cred.Token == "" {
			return transport.Request{}, fmt.Errorf("%w: custom token is empty", ErrInvalidCredential)
		}
		host, path, query = hosts.IdentityToolkit, pathSignInWithCustom, keyQuery
		body = customTokenBody{Token: cred.Token, ReturnSecureToken: "true"}

	case e.auth.Task == TaskRefreshToken:
		if cred.RefreshToken == "" {
			return transport.Request{}, fmt.Errorf("%w: refresh needs a refresh token", ErrInvalidCredential)
		}
		host, path, query = hosts.SecureToken, pathSecureToken, keyQuery
		body = secureTokenBody{GrantType: grantTypeRefreshToken, RefreshToken: cred.RefreshToken}

	case e.auth.Task == TaskSendVerifyEmail:
		host, path, query = hosts.IdentityToolkit, pathSendOobCode, keyQuery
		body = oobCodeBody{RequestType: "VERIFY_EMAIL", IDToken: cred.Token}

	case e.auth.Task == TaskResetPassword:
		host, path, query = hosts.IdentityToolkit, pathSendOobCode, keyQuery
		body = oobCodeBody{RequestType: "PASSWORD_RESET", Email: cred.Email}

	case e.auth.Task == TaskDeleteUser:
		host, path, query = hosts.IdentityToolkit, pathDelete, keyQuery
		body = deleteBody{IDToken: cred.Token}

	case e.auth.Task == TaskSignUp:
		host, path, query = hosts.IdentityToolkit, pathSignUp, keyQuery
		if e.auth.Anonymous {
			body = passwordBody{ReturnSecureToken: "true"}
		} else {
			body = passwordBody{Email: cred.Email, Password: cred.Password, ReturnSecureToken: "true"}
		}

	case cred.Kind == KindUserPassword:
		host, path, query = hosts.IdentityToolkit, pathSignInWithPassword, keyQuery
		body = passwordBody{Email: cred.Email, Password: cred.Password, ReturnSecureToken: "true"}

	default:
		return transport.Request{}, fmt.Errorf("%w: %s cannot run task %s", ErrInvalidCredential, cred.Kind, e.auth.Task)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return transport.Request{}, fmt.Errorf("encode request body: %w", err)
	}

	return transport.Request{
		Host:   host,
		Path:   path,
		Query:  query,
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   data,
	}, nil
}
