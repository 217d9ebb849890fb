package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Marshal encodes c in the persisted JSON form.
// Nil slices are written as empty arrays so equal collections always
// produce equal bytes.
func Marshal(c *Collection) ([]byte, error) {
	if c == nil {
		return nil, errors.New("nil collection")
	}
	data, err := json.Marshal(normalize(c))
	if err != nil {
		return nil, fmt.Errorf("marshal collection: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a persisted collection.
// Any failure is reported as *CorruptDataError for namespace.
func Unmarshal(namespace string, data []byte) (*Collection, error) {
	var raw struct {
		Sessions *[]Session `json:"sessions"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, &CorruptDataError{Namespace: namespace, Err: err}
	}
	if dec.More() {
		return nil, &CorruptDataError{Namespace: namespace, Err: errors.New("trailing data after collection")}
	}
	if raw.Sessions == nil {
		return nil, &CorruptDataError{Namespace: namespace, Err: errors.New("missing sessions field")}
	}

	c := normalize(&Collection{Sessions: *raw.Sessions})
	if err := Validate(c); err != nil {
		return nil, &CorruptDataError{Namespace: namespace, Err: err}
	}
	return c, nil
}

// Validate checks the structural invariants of a collection. An empty
// collection is valid here; the store replaces it with a default session.
func Validate(c *Collection) error {
	seen := make(map[string]struct{}, len(c.Sessions))
	for i, s := range c.Sessions {
		if s.ID == "" {
			return fmt.Errorf("session %d: empty id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("session %d: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = struct{}{}
		for j, rec := range s.Scans {
			if err := rec.Result.Validate(); err != nil {
				return fmt.Errorf("session %q scan %d: %w", s.ID, j, err)
			}
		}
	}
	return nil
}

// Validate checks the status and the confidence range.
func (r ScanResult) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence %d out of range", r.Confidence)
	}
	return nil
}

// normalize returns a deep copy of c with every nil slice replaced by an
// empty one.
func normalize(c *Collection) *Collection {
	out := c.Clone()
	if out.Sessions == nil {
		out.Sessions = []Session{}
	}
	return out
}
