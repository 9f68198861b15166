// Package config reads Lambda settings from the process environment.
//
// Every function loads its settings once at cold start through an Env lookup
// (os.Getenv in production) and fails before serving invocations when a
// required value is missing or malformed.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env looks up a single environment value. A blank result means unset.
type Env func(key string) string

// OS is the process environment.
var OS Env = os.Getenv

// FromMap builds an Env over a fixed set of values.
func FromMap(m map[string]string) Env {
	return func(key string) string { return m[key] }
}

// Error reports a missing or unusable setting.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing env %s", e.Key)
	}
	return fmt.Sprintf("invalid env %s: %s", e.Key, e.Reason)
}

func (env Env) get(key string) string {
	if env == nil {
		return ""
	}
	return strings.TrimSpace(env(key))
}

// Required returns the trimmed value of key or an *Error when it is blank.
func Required(env Env, key string) (string, error) {
	v := env.get(key)
	if v == "" {
		return "", &Error{Key: key}
	}
	return v, nil
}

func String(env Env, key, def string) string {
	if v := env.get(key); v != "" {
		return v
	}
	return def
}

// Int32 parses a positive integer. Unset returns def.
func Int32(env Env, key string, def int32) (int32, error) {
	v := env.get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, &Error{Key: key, Reason: fmt.Sprintf("%q is not an integer", v)}
	}
	if n <= 0 {
		return 0, &Error{Key: key, Reason: fmt.Sprintf("%d must be positive", n)}
	}
	return int32(n), nil
}

func Bool(env Env, key string, def bool) (bool, error) {
	v := env.get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &Error{Key: key, Reason: fmt.Sprintf("%q is not a boolean", v)}
	}
	return b, nil
}

// Duration accepts Go duration syntax ("90s", "2m").
func Duration(env Env, key string, def time.Duration) (time.Duration, error) {
	v := env.get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, &Error{Key: key, Reason: fmt.Sprintf("%q is not a positive duration", v)}
	}
	return d, nil
}

// List splits a comma separated value, dropping blanks.
func List(env Env, key string) []string {
	v := env.get(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
