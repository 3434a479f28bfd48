// Package domain contains core domain types for the provider desk.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Identity is the provider profile returned by the backend on sign-in.
// Its fields are backend-defined; accessors cover the ones the desk reads.
type Identity map[string]any

// ParseIdentity decodes a serialized identity record.
// Numbers are kept as json.Number so a save/load round trip is lossless.
func ParseIdentity(data []byte) (Identity, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var id Identity
	if err := dec.Decode(&id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if len(id) == 0 {
		return nil, fmt.Errorf("decode identity: empty record")
	}
	return id, nil
}

// ID returns the provider id.
func (i Identity) ID() string {
	return i.first("id", "usuID", "mecID")
}

// Name returns the display name, if any.
func (i Identity) Name() string {
	return i.first("nome", "usuNome", "name")
}

// Login returns the login handle, if any.
func (i Identity) Login() string {
	return i.first("mecLogin", "login")
}

// Email returns the e-mail address, if any.
func (i Identity) Email() string {
	return i.first("email", "usuEmail")
}

// Role returns the account role. Providers default to "prestador".
func (i Identity) Role() string {
	if r := i.first("role"); r != "" {
		return r
	}
	return "prestador"
}

// SenderLabel returns the name attached to outgoing chat messages.
func (i Identity) SenderLabel() string {
	return i.first("nome", "usuNome", "mecLogin", "name", "login")
}

// Clone returns a deep copy so callers can never mutate shared state.
func (i Identity) Clone() Identity {
	if i == nil {
		return nil
	}
	out := make(Identity, len(i))
	for k, v := range i {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a copy of i with the non-empty fields of patch applied.
func (i Identity) Merge(patch map[string]string) Identity {
	out := i.Clone()
	if out == nil {
		out = Identity{}
	}
	for k, v := range patch {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func (i Identity) first(keys ...string) string {
	for _, k := range keys {
		if s := stringValue(i[k]); s != "" {
			return s
		}
	}
	return ""
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for idx, vv := range t {
			s[idx] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// stringValue renders loosely typed JSON scalars as strings.
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
