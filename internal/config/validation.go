// validation.go - Environment parsing that collects every problem before failing.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// FieldError is a single invalid or missing setting.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ValidationError aggregates every FieldError found while loading.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// validator reads environment variables and records what is wrong with them.
type validator struct {
	errors []FieldError
}

func (v *validator) addError(field, message string) {
	v.errors = append(v.errors, FieldError{Field: field, Message: message})
}

func (v *validator) err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

func (v *validator) string(key, def string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return def
}

func (v *validator) required(key string) string {
	s := v.string(key, "")
	if s == "" {
		v.addError(key, "required environment variable not set")
	}
	return s
}

func (v *validator) enum(key, def string, allowed ...string) string {
	s := v.string(key, def)
	for _, opt := range allowed {
		if s == opt {
			return s
		}
	}
	v.addError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), s))
	return def
}

func (v *validator) positiveInt64(key string, def int64) int64 {
	s := v.string(key, "")
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		v.addError(key, "must be a valid integer")
		return def
	}
	if n <= 0 {
		v.addError(key, "must be a positive integer")
		return def
	}
	return n
}

func (v *validator) nonNegativeInt(key string, def int) int {
	s := v.string(key, "")
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		v.addError(key, "must be a non-negative integer")
		return def
	}
	return n
}

func (v *validator) duration(key string, def time.Duration) time.Duration {
	s := v.string(key, "")
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		// Bare numbers are seconds.
		secs, aerr := strconv.Atoi(s)
		if aerr != nil {
			v.addError(key, "must be a valid duration (e.g. 1h, 90s, 3600)")
			return def
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		v.addError(key, "must be a positive duration")
		return def
	}
	return d
}

func (v *validator) bool(key string, def bool) bool {
	s := v.string(key, "")
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		v.addError(key, "must be true or false")
		return def
	}
	return b
}

func (v *validator) list(key string, def []string) []string {
	s := v.string(key, "")
	if s == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (v *validator) url(key string, schemes ...string) string {
	s := v.string(key, "")
	if s == "" {
		return ""
	}
	parsed, err := url.Parse(s)
	if err != nil {
		v.addError(key, fmt.Sprintf("invalid URL format: %v", err))
		return ""
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme && parsed.Host != "" {
			return s
		}
	}
	v.addError(key, fmt.Sprintf("URL must use one of the schemes: %s", strings.Join(schemes, ", ")))
	return ""
}

func (v *validator) addr(key, def string) string {
	s := v.string(key, def)
	portStr := s[strings.LastIndex(s, ":")+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		v.addError(key, "must be host:port with a port between 0 and 65535")
		return def
	}
	return s
}
