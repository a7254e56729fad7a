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
	"strings"
	"time"
)

// Document is a materialized remote document. It is owned by the caller once
// returned; no builder retains a reference to it.
type Document struct {
	// Name is the full resource name of the document.
	Name string
	// Fields maps field names to their wire values.
	Fields map[string]Value
	// CreateTime and UpdateTime are set by the service.
	CreateTime time.Time
	UpdateTime time.Time
	// ReadTime is the time the document was read at, when the read carried
	// one (batch reads do).
	ReadTime time.Time
}

// ID returns the last segment of the document's resource name.
func (d *Document) ID() string {
	if i := strings.LastIndexByte(d.Name, '/'); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

// Path returns the document path relative to the database's document root,
// e.g. "cities/LA".
func (d *Document) Path() string {
	const marker = "/documents/"
	if i := strings.Index(d.Name, marker); i >= 0 {
		return d.Name[i+len(marker):]
	}
	return d.Name
}

// Data returns the document fields decoded to native Go values.
func (d *Document) Data() map[string]any {
	return unwrapFields(d.Fields)
}

// wireDocument is the JSON shape of a document on the wire.
type wireDocument struct {
	Name       string           `json:"name,omitempty"`
	Fields     map[string]Value `json:"fields,omitempty"`
	CreateTime string           `json:"createTime,omitempty"`
	UpdateTime string           `json:"updateTime,omitempty"`
}

func (w *wireDocument) document(readTime string) (*Document, error) {
	d := &Document{
		Name:   w.Name,
		Fields: w.Fields,
	}
	if d.Fields == nil {
		d.Fields = map[string]Value{}
	}
	var err error
	if d.CreateTime, err = parseWireTime(w.CreateTime); err != nil {
		return nil, err
	}
	if d.UpdateTime, err = parseWireTime(w.UpdateTime); err != nil {
		return nil, err
	}
	if d.ReadTime, err = parseWireTime(readTime); err != nil {
		return nil, err
	}
	return d, nil
}

func parseWireTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
