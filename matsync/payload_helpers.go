// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// rowFields extracts typed columns out of a raw pushed row. Offline clients
// produce permissive JSON shapes, so every accessor is fallible or nullable
// rather than panicking on the wrong type.
type rowFields struct {
	data map[string]any
}

func newRowFields(payload json.RawMessage) (*rowFields, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("parse row: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("parse row: not a JSON object")
	}
	return &rowFields{data: m}, nil
}

// Str returns a nullable string field. Missing, null, or non-string values
// yield nil.
func (f *rowFields) Str(key string) *string {
	if v, ok := f.data[key]; ok && v != nil {
		if s, ok2 := v.(string); ok2 {
			return &s
		}
	}
	return nil
}

// StrRequired returns a string field or an error when it is missing, null,
// empty, or not a string.
func (f *rowFields) StrRequired(key string) (string, error) {
	if s := f.Str(key); s != nil && *s != "" {
		return *s, nil
	}
	return "", fmt.Errorf("required field %q is missing or empty", key)
}

// Int64 returns a nullable integer field. JSON numbers and numeric strings
// are both accepted.
func (f *rowFields) Int64(key string) *int64 {
	if v, ok := f.data[key]; ok && v != nil {
		switch t := v.(type) {
		case float64:
			n := int64(t)
			return &n
		case string:
			if t == "" {
				return nil
			}
			var n int64
			if _, err := fmt.Sscan(t, &n); err == nil {
				return &n
			}
		}
	}
	return nil
}

// Time returns a nullable timestamp field encoded as RFC 3339 or as Unix
// milliseconds (the format older offline clients buffered).
func (f *rowFields) Time(key string) *time.Time {
	v, ok := f.data[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return &ts
		}
	case float64:
		ts := time.UnixMilli(int64(t)).UTC()
		return &ts
	}
	return nil
}

// TimeRequired returns a timestamp field or an error when absent or malformed.
func (f *rowFields) TimeRequired(key string) (time.Time, error) {
	if ts := f.Time(key); ts != nil {
		return *ts, nil
	}
	return time.Time{}, fmt.Errorf("required timestamp %q is missing or malformed", key)
}

// RawJSON re-encodes an arbitrary field back to JSON, preserving whatever
// structure the client pushed. Returns nil for missing or null fields.
func (f *rowFields) RawJSON(key string) json.RawMessage {
	v, ok := f.data[key]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// meta decodes the bookkeeping columns shared by every synchronizable row.
func (f *rowFields) meta() (RowMeta, error) {
	id, err := f.StrRequired("id")
	if err != nil {
		return RowMeta{}, err
	}
	createdAt, err := f.TimeRequired("created_at")
	if err != nil {
		return RowMeta{}, err
	}
	updatedAt, err := f.TimeRequired("updated_at")
	if err != nil {
		return RowMeta{}, err
	}
	return RowMeta{
		ID:        id,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		DeletedAt: f.Time("deleted_at"),
		ServerSeq: f.Int64("server_seq"),
	}, nil
}
