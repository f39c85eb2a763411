package db

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// InitParams holds the engine specific key=value options of the init string.
// Unknown keys are ignored by the engines (they may log a warning).
type InitParams map[string]string

// ParseInitParams parses a semicolon-delimited list of key=value pairs,
// e.g. "cacheSize=1048576;sync=false". Empty segments are skipped, a segment
// without '=' is an InvalidArgument error.
func ParseInitParams(s string) (InitParams, error) {
	params := InitParams{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, NewError(ErrCInvalidArgument, "invalid init parameter %q (expected key=value)", part)
		}
		params[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return params, nil
}

// String formats the params back into the init string format (sorted by key)
func (p InitParams) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, ";")
}

// GetString returns the value for key or def if unset
func (p InitParams) GetString(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// GetInt returns the integer value for key or def if unset.
func (p InitParams) GetInt(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, NewError(ErrCInvalidArgument, "init parameter %s=%q is not an integer", key, v)
	}
	return i, nil
}

// GetInt64 is GetInt for int64 values (e.g. cache sizes)
func (p InitParams) GetInt64(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, NewError(ErrCInvalidArgument, "init parameter %s=%q is not an integer", key, v)
	}
	return i, nil
}

// GetBool returns the boolean value for key or def if unset
func (p InitParams) GetBool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, NewError(ErrCInvalidArgument, "init parameter %s=%q is not a boolean", key, v)
	}
	return b, nil
}

// GetMillis reads an integer number of milliseconds as a duration
func (p InitParams) GetMillis(key string, def time.Duration) (time.Duration, error) {
	ms, err := p.GetInt64(key, def.Milliseconds())
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Unknown returns all keys not contained in known (sorted)
func (p InitParams) Unknown(known ...string) []string {
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	var out []string
	for k := range p {
		if _, ok := set[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
