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
	"context"
	"regexp"
	"strings"

	"go.chromium.org/luci/common/data/rand/cryptorand"
	"go.chromium.org/luci/common/errors"
)

// documentNameRe matches a full document resource name, the pattern that
// makes a string encode as a reference value.
var documentNameRe = regexp.MustCompile(`^projects/[^/]+/databases/[^/]+/documents(?:/[^/]+)+$`)

func isDocumentName(s string) bool {
	return documentNameRe.MatchString(s)
}

// splitPath splits a relative resource path and rejects empty segments.
func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, validationErr("empty resource path")
	}
	segs := strings.Split(trimmed, "/")
	for _, s := range segs {
		if s == "" {
			return nil, validationErr("resource path %q has an empty segment", path)
		}
	}
	return segs, nil
}

// documentName resolves a path relative to root into a full document
// resource name. Document paths alternate collection/document ids, so a
// valid one has an even number of segments.
func documentName(root, path string) (string, error) {
	if strings.HasPrefix(path, root+"/") {
		path = path[len(root)+1:]
	}
	segs, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if len(segs)%2 != 0 {
		return "", validationErr("path %q is missing a document id", path)
	}
	return root + "/" + strings.Join(segs, "/"), nil
}

// collectionName resolves a path expected to end on a collection id (odd
// number of segments).
func collectionName(root, path string) (string, error) {
	if strings.HasPrefix(path, root+"/") {
		path = path[len(root)+1:]
	}
	segs, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if len(segs)%2 != 1 {
		return "", validationErr("path %q does not name a collection", path)
	}
	return root + "/" + strings.Join(segs, "/"), nil
}

// simpleFieldSegmentRe matches field path segments that need no quoting.
var simpleFieldSegmentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// escapeFieldPath quotes a dot-separated field path for the wire. Segments
// that are not simple identifiers are wrapped in backquotes with backslash
// and backquote escaped, so a segment containing the quote character itself
// round-trips.
func escapeFieldPath(path string) string {
	segs := strings.Split(path, ".")
	for i, s := range segs {
		if !simpleFieldSegmentRe.MatchString(s) {
			r := strings.NewReplacer(`\`, `\\`, "`", "\\`")
			segs[i] = "`" + r.Replace(s) + "`"
		}
	}
	return strings.Join(segs, ".")
}

// autoIDAlphabet matches the id alphabet used for server-style generated
// document ids.
const autoIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const autoIDLength = 20

// autoDocumentID generates a random 20-character document id.
func autoDocumentID(ctx context.Context) (string, error) {
	buf := make([]byte, autoIDLength)
	if _, err := cryptorand.Read(ctx, buf); err != nil {
		return "", errors.Fmt("firerest: generating document id: %w", err)
	}
	for i, b := range buf {
		buf[i] = autoIDAlphabet[int(b)%len(autoIDAlphabet)]
	}
	return string(buf), nil
}
