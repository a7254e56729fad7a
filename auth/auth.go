// Copyright 2025 The FireREST Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth provides bearer-token sources for the firerest transport.
//
// StaticTokenSource serves a fixed token (emulators, externally managed
// credentials). ServiceAccountTokenSource implements the two-legged OAuth
// flow: it signs an RS256 JWT assertion with the service account's private
// key, exchanges it at the token endpoint, and caches the resulting access
// token until shortly before expiry.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry/transient"
)

// DefaultTokenURL is Google's OAuth2 token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// DefaultScope grants access to the document database API.
const DefaultScope = "https://www.googleapis.com/auth/datastore"

// jwtBearerGrant is the assertion grant type of the two-legged flow.
const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// expiryMargin refreshes tokens slightly before the server-reported expiry.
const expiryMargin = 30 * time.Second

// StaticTokenSource serves a fixed access token.
type StaticTokenSource struct {
	AccessToken string
}

// Token implements firerest.TokenSource.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	return s.AccessToken, nil
}

// ServiceAccount identifies a service account and its signing key.
type ServiceAccount struct {
	// Email is the account's client email ("...@...iam.gserviceaccount.com").
	Email string
	// PrivateKey is the account's RSA private key in PEM form.
	PrivateKey string
	// TokenURL overrides DefaultTokenURL.
	TokenURL string
	// Scopes override DefaultScope.
	Scopes []string
}

// ServiceAccountTokenSource mints and caches access tokens for a service
// account. Safe for concurrent use.
type ServiceAccountTokenSource struct {
	account ServiceAccount
	client  *http.Client
	key     *rsa.PrivateKey

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewServiceAccountTokenSource parses the account's key and returns a token
// source. client may be nil to use http.DefaultClient.
func NewServiceAccountTokenSource(account ServiceAccount, client *http.Client) (*ServiceAccountTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, errors.Fmt("auth: parsing service account key: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ServiceAccountTokenSource{account: account, client: client, key: key}, nil
}

// Token implements firerest.TokenSource, returning the cached token or
// minting a new one.
func (s *ServiceAccountTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := clock.Now(ctx)
	if s.token != "" && now.Before(s.expiry.Add(-expiryMargin)) {
		return s.token, nil
	}

	assertion, err := s.signAssertion(now)
	if err != nil {
		return "", err
	}
	token, expiresIn, err := s.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiry = now.Add(time.Duration(expiresIn) * time.Second)
	logging.Debugf(ctx, "auth: minted access token for %s, expires in %ds", s.account.Email, expiresIn)
	return s.token, nil
}

func (s *ServiceAccountTokenSource) signAssertion(now time.Time) (string, error) {
	scopes := s.account.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	tokenURL := s.tokenURL()
	claims := jwt.MapClaims{
		"iss":   s.account.Email,
		"scope": strings.Join(scopes, " "),
		"aud":   tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", errors.Fmt("auth: signing assertion: %w", err)
	}
	return assertion, nil
}

func (s *ServiceAccountTokenSource) tokenURL() string {
	if s.account.TokenURL != "" {
		return s.account.TokenURL
	}
	return DefaultTokenURL
}

func (s *ServiceAccountTokenSource) exchange(ctx context.Context, assertion string) (token string, expiresIn int64, err error) {
	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, errors.Fmt("auth: building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, transient.Tag.Apply(errors.Fmt("auth: token exchange: %w", err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, transient.Tag.Apply(errors.Fmt("auth: reading token response: %w", err))
	}
	if resp.StatusCode >= 400 {
		err = errors.Fmt("auth: token endpoint replied %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 {
			err = transient.Tag.Apply(err)
		}
		return "", 0, err
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, errors.Fmt("auth: decoding token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, errors.New("auth: token endpoint returned no access token")
	}
	return payload.AccessToken, payload.ExpiresIn, nil
}
