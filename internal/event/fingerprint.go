package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// FingerprintFields hashes a field mapping independent of key order and of
// the order of nested lists. Any difference in a value, whitespace included,
// yields a different digest.
func FingerprintFields(fields map[string]any) (string, error) {
	generic, err := toGeneric(fields)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(canonicalize(generic))
	if err != nil {
		return "", fmt.Errorf("encoding fields: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// toGeneric round-trips v through JSON so every map is a map[string]any
// and every slice a []any, whatever their static types were.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding fields: %w", err)
	}
	return out, nil
}

// Fingerprint returns the content fingerprint of an event
func Fingerprint(c *Canonical) string {
	fp, err := FingerprintFields(c.ContentFields())
	if err != nil {
		// ContentFields only holds strings
		panic(err)
	}
	return fp
}

// canonicalize sorts every list by the encoding of its canonical elements.
// Map keys need no work: encoding/json writes them sorted.
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = canonicalize(item)
		}
		return out

	case []any:
		type keyed struct {
			enc   []byte
			value any
		}
		items := make([]keyed, 0, len(val))
		for _, item := range val {
			c := canonicalize(item)
			// generic values always encode
			enc, _ := json.Marshal(c)
			items = append(items, keyed{enc: enc, value: c})
		}
		sort.SliceStable(items, func(i, j int) bool {
			return bytes.Compare(items[i].enc, items[j].enc) < 0
		})
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item.value
		}
		return out
	}

	return v
}
