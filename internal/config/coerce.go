// Package config loads the pagerunner run configuration and parses the
// settings record a test script declares.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Values decoded from YAML, JSON, viper or a --set override arrive loosely
// typed. The helpers below coerce them into setting fields; blank strings
// count as unset.

func firstKey(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if val, ok := m[key]; ok {
			return val, true
		}
	}
	return nil, false
}

func scalar(value interface{}) interface{} {
	if s, ok := value.(string); ok {
		if s = strings.TrimSpace(s); s == "" {
			return nil
		}
		return s
	}
	return value
}

func asString(value interface{}) (string, error) {
	s, err := cast.ToStringE(value)
	return strings.TrimSpace(s), err
}

// asInt rejects fractional numbers rather than truncating them, so
// "users: 2.5" is an error and not two users.
func asInt(value interface{}) (int, error) {
	v := scalar(value)
	if f, ok := v.(float64); ok && f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not a whole number", f)
	}
	return cast.ToIntE(v)
}

func asFloat64(value interface{}) (float64, error) {
	return cast.ToFloat64E(scalar(value))
}

func asBool(value interface{}) (bool, error) {
	return cast.ToBoolE(scalar(value))
}

// asStringSlice keeps a single string whole; console filters contain spaces.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	default:
		return cast.ToStringSliceE(v)
	}
}

// asSection reads a nested block such as logger or tracing, lowercasing keys.
func asSection(value interface{}) (map[string]interface{}, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, fmt.Errorf("expected a mapping, got %T", value)
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out, nil
}

// asDuration reads numbers as seconds, fractions allowed, and strings as
// either a number of seconds or a Go duration such as "1m30s".
func asDuration(value interface{}) (time.Duration, error) {
	var secs float64
	switch v := scalar(value).(type) {
	case nil:
		return 0, nil
	case time.Duration:
		if v < 0 {
			return 0, fmt.Errorf("must be a finite number of seconds >= 0")
		}
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			d, derr := time.ParseDuration(v)
			if derr != nil {
				return 0, fmt.Errorf("%q is neither seconds nor a duration", v)
			}
			if d < 0 {
				return 0, fmt.Errorf("must be a finite number of seconds >= 0")
			}
			return d, nil
		}
		secs = f
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, err
		}
		secs = f
	}
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("must be a finite number of seconds >= 0")
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// isUnbounded reports whether a loop count or run duration disables its
// limit: "unbounded", "infinity", +Inf or any negative number.
func isUnbounded(value interface{}) bool {
	v := scalar(value)
	switch t := v.(type) {
	case nil, bool, time.Duration:
		return false
	case string:
		switch strings.ToLower(t) {
		case "unbounded", "infinity", "inf":
			return true
		}
	}
	f, err := cast.ToFloat64E(v)
	return err == nil && (f < 0 || math.IsInf(f, 1))
}

func asLoopLimit(value interface{}) (int, error) {
	if isUnbounded(value) {
		return Unbounded, nil
	}
	return asInt(value)
}

func asDurationLimit(value interface{}) (time.Duration, error) {
	if isUnbounded(value) {
		return Unbounded, nil
	}
	return asDuration(value)
}
