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

package firerest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry/transient"
)

// DefaultBaseURL is the production REST endpoint.
const DefaultBaseURL = "https://firestore.googleapis.com/v1/"

// TokenSource supplies bearer tokens for outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPTransport is the default Transport: JSON over HTTP against a base URL,
// authenticated with bearer tokens.
//
// Network failures and 5xx/429 responses are tagged transient; error
// payloads decode into *RemoteError with the service's status preserved
// verbatim.
type HTTPTransport struct {
	// BaseURL overrides DefaultBaseURL (e.g. to point at an emulator).
	BaseURL string
	// Tokens supplies bearer tokens. Nil sends unauthenticated requests,
	// which only an emulator accepts.
	Tokens TokenSource
	// Client overrides http.DefaultClient.
	Client *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// Get implements Transport.
func (t *HTTPTransport) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return t.do(ctx, http.MethodGet, path, nil)
}

// Post implements Transport.
func (t *HTTPTransport) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return t.do(ctx, http.MethodPost, path, body)
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	base := t.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Fmt("firerest: encoding %s request: %w", path, err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, errors.Fmt("firerest: building %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.Tokens != nil {
		token, err := t.Tokens.Token(ctx)
		if err != nil {
			return nil, errors.Fmt("firerest: acquiring token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	logging.Debugf(ctx, "firerest: %s %s", method, path)
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, transient.Tag.Apply(errors.Fmt("firerest: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient.Tag.Apply(errors.Fmt("firerest: reading %s response: %w", path, err))
	}
	if resp.StatusCode >= 400 {
		rerr := decodeRemoteError(resp.StatusCode, raw)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, transient.Tag.Apply(error(rerr))
		}
		return nil, rerr
	}
	return raw, nil
}

// decodeRemoteError extracts the service's error payload, falling back to
// the raw body when the payload is not the expected shape.
func decodeRemoteError(httpStatus int, raw []byte) *RemoteError {
	var payload struct {
		Error struct {
			Code    int    `json:"code"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Status != "" {
		return &RemoteError{
			Code:    payload.Error.Code,
			Status:  payload.Error.Status,
			Message: payload.Error.Message,
		}
	}
	return &RemoteError{
		Code:    httpStatus,
		Status:  http.StatusText(httpStatus),
		Message: strings.TrimSpace(string(raw)),
	}
}
