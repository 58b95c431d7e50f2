package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Params is the decoded parameter bag of one provider call. Numbers are kept
// as json.Number so large ids and amounts survive decoding intact.
type Params map[string]interface{}

// DecodeParams parses raw JSON params. An absent or null payload yields an
// empty bag.
func DecodeParams(raw json.RawMessage) (Params, error) {
	p := Params{}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}

// Has reports whether every name is present and non-null.
func (p Params) Has(names ...string) bool {
	for _, n := range names {
		if v, ok := p[n]; !ok || v == nil {
			return false
		}
	}
	return true
}

// HasAccount reports whether the account object carries every field.
func (p Params) HasAccount(fields []string) bool {
	acc, ok := p["account"].(map[string]interface{})
	if !ok {
		return false
	}
	for _, f := range fields {
		if v, ok := acc[f]; !ok || v == nil {
			return false
		}
	}
	return true
}

// AccountField returns one account sub-field rendered as a string.
func (p Params) AccountField(field string) (string, bool) {
	acc, ok := p["account"].(map[string]interface{})
	if !ok {
		return "", false
	}
	s, err := scalarString(acc[field])
	return s, err == nil
}

// Int64 returns an integral numeric parameter.
func (p Params) Int64(name string) (int64, error) {
	switch v := p[name].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		// A plain integer literal that Int64 refused is out of range.
		if !strings.ContainsAny(v.String(), ".eE") {
			return 0, fmt.Errorf("param %q: not a 64-bit integer: %s", name, v)
		}
		f, err := v.Float64()
		if err != nil || !integral(f) {
			return 0, fmt.Errorf("param %q: not a 64-bit integer: %s", name, v)
		}
		return int64(f), nil
	case float64:
		if !integral(v) {
			return 0, fmt.Errorf("param %q: not a 64-bit integer: %v", name, v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("param %q: expected number, got %T", name, v)
	}
}

// integral reports whether f is a whole number that int64 can hold.
// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
func integral(f float64) bool {
	return f == math.Trunc(f) && f >= -0x1p63 && f < 0x1p63
}

// String returns a string or numeric parameter rendered as a string.
func (p Params) String(name string) (string, error) {
	s, err := scalarString(p[name])
	if err != nil {
		return "", fmt.Errorf("param %q: %w", name, err)
	}
	return s, nil
}

func scalarString(v interface{}) (string, error) {
	switch v := v.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("empty string")
		}
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("expected string or number, got %T", v)
	}
}
