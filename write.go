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

import "sort"

// Write is one wire write operation: an update (create/set/update), a
// delete, or a server-side transform, optionally guarded by a precondition.
type Write struct {
	Update          *WriteUpdate       `json:"update,omitempty"`
	Delete          string             `json:"delete,omitempty"`
	Transform       *DocumentTransform `json:"transform,omitempty"`
	UpdateMask      *DocumentMask      `json:"updateMask,omitempty"`
	CurrentDocument *Precondition      `json:"currentDocument,omitempty"`
}

// WriteUpdate is the document payload of an update write.
type WriteUpdate struct {
	Name   string           `json:"name"`
	Fields map[string]Value `json:"fields"`
}

// DocumentMask limits which fields an update touches.
type DocumentMask struct {
	FieldPaths []string `json:"fieldPaths"`
}

// Precondition guards a write on document existence.
type Precondition struct {
	Exists bool `json:"exists"`
}

// DocumentTransform applies server-side field transforms to one document.
type DocumentTransform struct {
	Document        string           `json:"document"`
	FieldTransforms []FieldTransform `json:"fieldTransforms"`
}

// FieldTransform is one server-applied field mutation.
type FieldTransform struct {
	FieldPath             string        `json:"fieldPath"`
	SetToServerValue      string        `json:"setToServerValue,omitempty"`
	Increment             *Value        `json:"increment,omitempty"`
	AppendMissingElements *arrayPayload `json:"appendMissingElements,omitempty"`
	RemoveAllFromArray    *arrayPayload `json:"removeAllFromArray,omitempty"`
}

type transformKind int

const (
	serverTimestampTransform transformKind = iota
	incrementTransform
	arrayUnionTransform
	arrayRemoveTransform
)

// TransformOp is one member of the closed per-field transform vocabulary.
// Build them with ServerTimestamp, Increment, ArrayUnion or ArrayRemove.
type TransformOp struct {
	kind     transformKind
	operand  any
	elements []any
}

// ServerTimestamp sets the field to the time the server processed the
// request.
func ServerTimestamp() TransformOp {
	return TransformOp{kind: serverTimestampTransform}
}

// Increment atomically adds the numeric operand to the field.
func Increment(operand any) TransformOp {
	return TransformOp{kind: incrementTransform, operand: operand}
}

// ArrayUnion appends the elements missing from the array field.
func ArrayUnion(elements ...any) TransformOp {
	return TransformOp{kind: arrayUnionTransform, elements: elements}
}

// ArrayRemove removes all occurrences of the elements from the array field.
func ArrayRemove(elements ...any) TransformOp {
	return TransformOp{kind: arrayRemoveTransform, elements: elements}
}

// fieldTransform compiles the op to the wire shape for one field path.
func (op TransformOp) fieldTransform(fieldPath string) (FieldTransform, error) {
	ft := FieldTransform{FieldPath: escapeFieldPath(fieldPath)}
	switch op.kind {
	case serverTimestampTransform:
		ft.SetToServerValue = "REQUEST_TIME"
	case incrementTransform:
		v, err := NewValue(op.operand)
		if err != nil {
			return FieldTransform{}, err
		}
		if v.Kind() != VKInteger && v.Kind() != VKDouble {
			return FieldTransform{}, validationErr("increment of %q needs a numeric operand, got %s", fieldPath, v.Kind())
		}
		ft.Increment = &v
	case arrayUnionTransform, arrayRemoveTransform:
		vs := make([]Value, len(op.elements))
		for i, el := range op.elements {
			v, err := NewValue(el)
			if err != nil {
				return FieldTransform{}, err
			}
			vs[i] = v
		}
		payload := &arrayPayload{Values: vs}
		if op.kind == arrayUnionTransform {
			ft.AppendMissingElements = payload
		} else {
			ft.RemoveAllFromArray = payload
		}
	}
	return ft, nil
}

// writeList stages write operations for a batch or transaction. It is the
// shared staging logic both owners compose; root is the database's document
// root resource name.
type writeList struct {
	root   string
	writes []Write
}

// stageCreate stages a create-only write. The path must name a concrete
// document id.
func (w *writeList) stageCreate(path string, fields map[string]any) error {
	name, err := documentName(w.root, path)
	if err != nil {
		return err
	}
	fv, err := wrapFields(fields)
	if err != nil {
		return err
	}
	w.writes = append(w.writes, Write{
		Update:          &WriteUpdate{Name: name, Fields: fv},
		CurrentDocument: &Precondition{Exists: false},
	})
	return nil
}

// stageSet stages an unconditional overwrite. With merge, only the given
// top-level fields are written and the rest of the document is preserved.
func (w *writeList) stageSet(path string, fields map[string]any, merge bool) error {
	name, err := documentName(w.root, path)
	if err != nil {
		return err
	}
	fv, err := wrapFields(fields)
	if err != nil {
		return err
	}
	wr := Write{Update: &WriteUpdate{Name: name, Fields: fv}}
	if merge {
		wr.UpdateMask = &DocumentMask{FieldPaths: fieldMask(fv)}
	}
	w.writes = append(w.writes, wr)
	return nil
}

// stageUpdate stages an update-only overwrite (the document must exist).
// With maskAll, the update mask covers exactly the given field names;
// explicit mask paths come in through stageUpdateMasked.
func (w *writeList) stageUpdate(path string, fields map[string]any, mask []string, useMask bool) error {
	name, err := documentName(w.root, path)
	if err != nil {
		return err
	}
	fv, err := wrapFields(fields)
	if err != nil {
		return err
	}
	wr := Write{
		Update:          &WriteUpdate{Name: name, Fields: fv},
		CurrentDocument: &Precondition{Exists: true},
	}
	if useMask {
		if len(mask) == 0 {
			mask = fieldMask(fv)
		}
		if len(mask) == 0 {
			return validationErr("update of %q has an empty field mask", path)
		}
		wr.UpdateMask = &DocumentMask{FieldPaths: mask}
	}
	w.writes = append(w.writes, wr)
	return nil
}

// stageDelete stages a delete by name.
func (w *writeList) stageDelete(path string) error {
	name, err := documentName(w.root, path)
	if err != nil {
		return err
	}
	w.writes = append(w.writes, Write{Delete: name})
	return nil
}

// stageTransform stages server-side field transforms.
func (w *writeList) stageTransform(path string, transforms map[string]TransformOp) error {
	name, err := documentName(w.root, path)
	if err != nil {
		return err
	}
	if len(transforms) == 0 {
		return validationErr("transform of %q has no field transforms", path)
	}
	fieldPaths := make([]string, 0, len(transforms))
	for fieldPath := range transforms {
		fieldPaths = append(fieldPaths, fieldPath)
	}
	sort.Strings(fieldPaths)
	fts := make([]FieldTransform, 0, len(transforms))
	for _, fieldPath := range fieldPaths {
		ft, err := transforms[fieldPath].fieldTransform(fieldPath)
		if err != nil {
			return err
		}
		fts = append(fts, ft)
	}
	w.writes = append(w.writes, Write{
		Transform: &DocumentTransform{Document: name, FieldTransforms: fts},
	})
	return nil
}

func (w *writeList) size() int { return len(w.writes) }

func (w *writeList) clear() { w.writes = nil }

// fieldMask lists the top-level field paths of a wrapped field map, escaped
// for the wire.
func fieldMask(fields map[string]Value) []string {
	paths := make([]string, 0, len(fields))
	for name := range fields {
		paths = append(paths, escapeFieldPath(name))
	}
	sort.Strings(paths)
	return paths
}
