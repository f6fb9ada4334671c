package petlibro

import (
	"context"
	"crypto/md5" //nolint:gosec // the vendor protocol requires MD5
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

const (
	appID = 1
	appSN = "c35772530d1041699c87fe62348507a8"

	// defaultExpiresIn applies when login omits expires_in.
	defaultExpiresIn = 3600
)

// credential is the session's token state. It is valid only while the
// access token is non-empty and now is before expiry.
type credential struct {
	accessToken  string
	refreshToken string
	expiry       time.Time
}

func (c credential) validAt(now time.Time) bool {
	return c.accessToken != "" && now.Before(c.expiry)
}

// authenticator performs the two renewal calls. The Session decides when.
type authenticator interface {
	login(ctx context.Context) (credential, error)
	refresh(ctx context.Context, current credential) (credential, error)
}

type loginRequest struct {
	AppID              int     `json:"appId"`
	AppSN              string  `json:"appSn"`
	Country            string  `json:"country"`
	Email              string  `json:"email"`
	Password           string  `json:"password"`
	PhoneBrand         string  `json:"phoneBrand"`
	PhoneSystemVersion string  `json:"phoneSystemVersion"`
	Timezone           string  `json:"timezone"`
	ThirdID            *string `json:"thirdId"`
	Type               *string `json:"type"`
}

type loginData struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    *int64 `json:"expires_in"`
}

// httpAuthenticator implements authenticator against the vendor API.
type httpAuthenticator struct {
	client *Client
	now    func() time.Time
}

func (a *httpAuthenticator) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func (a *httpAuthenticator) login(ctx context.Context) (credential, error) {
	cfg := a.client.cfg
	if cfg.Email == "" || cfg.Password == "" {
		return credential{}, ErrMissingCredentials
	}

	resp, err := a.client.post(ctx, pathLogin, loginRequest{
		AppID:    appID,
		AppSN:    appSN,
		Country:  cfg.Country,
		Email:    cfg.Email,
		Password: hashPassword(cfg.Password),
		Timezone: cfg.Timezone,
	}, "", headersLogin, requestTimeout)
	if err != nil {
		return credential{}, err
	}

	env, err := decodeEnvelope(pathLogin, resp)
	if err != nil {
		a.client.logger.Error("login request failed", "status", resp.status, "body", trimBody(resp.body))
		return credential{}, err
	}
	if env.Code == nil {
		return credential{}, fmt.Errorf("%w: login: unexpected response format", ErrProtocol)
	}
	if *env.Code != 0 {
		return credential{}, &AuthError{Code: *env.Code, Message: env.message()}
	}

	var data loginData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return credential{}, fmt.Errorf("%w: login: decoding data: %w", ErrProtocol, err)
		}
	}
	if data.Token == "" {
		return credential{}, fmt.Errorf("%w: login succeeded but no token found in data.token", ErrProtocol)
	}

	expiresIn := data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	return credential{
		accessToken:  data.Token,
		refreshToken: data.RefreshToken,
		expiry:       a.clock().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// refresh exchanges the refresh token. The response envelope differs from
// login: access_token and expires_in are top-level and both required. A
// refresh that returns no new refresh token keeps the current one.
func (a *httpAuthenticator) refresh(ctx context.Context, current credential) (credential, error) {
	resp, err := a.client.post(ctx, pathRefresh, refreshRequest{RefreshToken: current.refreshToken},
		current.accessToken, headersRefresh, requestTimeout)
	if err != nil {
		return credential{}, err
	}
	if resp.status < 200 || resp.status > 299 {
		return credential{}, fmt.Errorf("%w: refresh: HTTP %d", ErrTransport, resp.status)
	}

	var body refreshResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return credential{}, fmt.Errorf("%w: refresh: decoding response: %w", ErrProtocol, err)
	}
	if body.AccessToken == "" || body.ExpiresIn == nil {
		return credential{}, fmt.Errorf("%w: refresh: access_token or expires_in missing", ErrProtocol)
	}

	next := credential{
		accessToken:  body.AccessToken,
		refreshToken: current.refreshToken,
		expiry:       a.clock().Add(time.Duration(*body.ExpiresIn) * time.Second),
	}
	if body.RefreshToken != "" {
		next.refreshToken = body.RefreshToken
	}
	return next, nil
}

// hashPassword returns the lowercase hex MD5 digest the login endpoint expects.
func hashPassword(password string) string {
	sum := md5.Sum([]byte(password)) //nolint:gosec // protocol requirement
	return hex.EncodeToString(sum[:])
}
