package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	xerrors "aptos-agent/internal/errors"
)

// Args holds decoded tool arguments. Numbers are kept as json.Number so that
// large integers survive decoding.
type Args map[string]any

// ParseArgs decodes a JSON object. Empty input yields empty arguments.
func ParseArgs(raw string) (Args, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return Args{}, nil
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	decoder.UseNumber()
	var args Args
	if err := decoder.Decode(&args); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "tool arguments must be a JSON object")
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

// String returns a required, non-empty string argument.
func (a Args) String(key string) (string, error) {
	value, ok := a[key]
	if !ok || value == nil {
		return "", missing(key)
	}
	s, ok := value.(string)
	if !ok {
		return "", invalid(key, "must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", missing(key)
	}
	return s, nil
}

// OptionalString returns the string argument or "" when it is absent.
func (a Args) OptionalString(key string) (string, error) {
	if value, ok := a[key]; !ok || value == nil {
		return "", nil
	}
	s, ok := a[key].(string)
	if !ok {
		return "", invalid(key, "must be a string")
	}
	return strings.TrimSpace(s), nil
}

// Int64 returns a required integer argument. Integral floats and numeric
// strings are accepted.
func (a Args) Int64(key string) (int64, error) {
	value, ok := a[key]
	if !ok || value == nil {
		return 0, missing(key)
	}
	switch v := value.(type) {
	case json.Number:
		return parseInt(key, v.String())
	case string:
		return parseInt(key, strings.TrimSpace(v))
	case float64:
		if !fitsInt64(v) {
			return 0, invalid(key, "must be a 64-bit integer")
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, invalid(key, "must be an integer")
	}
}

// OptionalUint64 returns nil when the argument is absent.
func (a Args) OptionalUint64(key string) (*uint64, error) {
	if value, ok := a[key]; !ok || value == nil {
		return nil, nil
	}
	n, err := a.Int64(key)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, invalid(key, "must not be negative")
	}
	u := uint64(n)
	return &u, nil
}

func parseInt(key, text string) (int64, error) {
	n, err := strconv.ParseInt(text, 10, 64)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, invalid(key, "must be a 64-bit integer")
	}
	// 3.0 is sent by some models for integer parameters.
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || !fitsInt64(f) {
		return 0, invalid(key, "must be a 64-bit integer")
	}
	return int64(f), nil
}

// fitsInt64 reports whether f is integral and inside [-2^63, 2^63).
// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
func fitsInt64(f float64) bool {
	return f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63
}

func missing(key string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("argument %s is required", key),
		xerrors.WithMetadata("argument", key))
}

func invalid(key, reason string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("argument %s %s", key, reason),
		xerrors.WithMetadata("argument", key))
}
