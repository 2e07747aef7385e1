package access

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errInvalidInput = errors.New("invalid input or empty path")
	errNoWildcard   = errors.New("no matching elements found for wildcard path")
	// ErrNoSubject is returned by FromClaims when the subject claim is missing.
	ErrNoSubject = errors.New("access: subject claim missing")
)

// ClaimMapping names the token claims an Access is built from. Paths use
// dotted notation with optional array indexes, e.g. `realm_access.roles[*]`
// or `.org.id`.
type ClaimMapping struct {
	Subject string `mapstructure:"subject"`
	Tenant  string `mapstructure:"tenant"`
	// Scopes may hold a space separated string (the `scope` claim of OAuth2)
	// or a list of strings.
	Scopes string `mapstructure:"scopes"`
}

// DefaultClaimMapping reads `sub`, `tenant_id` and `scope`.
var DefaultClaimMapping = ClaimMapping{Subject: "sub", Tenant: "tenant_id", Scopes: "scope"}

func (m ClaimMapping) withDefaults() ClaimMapping {
	if m.Subject == "" {
		m.Subject = DefaultClaimMapping.Subject
	}
	if m.Tenant == "" {
		m.Tenant = DefaultClaimMapping.Tenant
	}
	if m.Scopes == "" {
		m.Scopes = DefaultClaimMapping.Scopes
	}
	return m
}

// FromClaims builds an Access from verified token claims. Missing tenant and
// scope claims leave the fields empty; a missing subject is an error.
func FromClaims(claims map[string]any, m ClaimMapping) (*Access, error) {
	m = m.withDefaults()

	sub, err := ClaimString(claims, m.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSubject, err)
	}
	a := &Access{Subject: sub, Claims: claims}
	if tenant, err := ClaimString(claims, m.Tenant); err == nil {
		a.TenantID = tenant
	}
	if v, err := Claim(claims, m.Scopes); err == nil {
		a.Scopes = scopeList(v)
	}
	return a, nil
}

func scopeList(v any) []string {
	switch s := v.(type) {
	case string:
		return strings.Fields(s)
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, x := range s {
			if str, ok := x.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// ClaimString returns the claim at path, which must be a non-empty string.
func ClaimString(claims map[string]any, path string) (string, error) {
	v, err := Claim(claims, path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("claim %s is not a string", path)
	}
	return s, nil
}

// Claim extracts a value from claims using dotted path notation like the jq
// cli. `key[n]` indexes an array and `key[*]` collects the rest of the path
// over every element.
func Claim(claims map[string]any, path string) (any, error) {
	if claims == nil || path == "" {
		return nil, errInvalidInput
	}
	path = strings.TrimPrefix(path, ".")

	keys := make([]string, 0, 5)
	for k := range strings.SplitSeq(path, ".") {
		if k != "" {
			keys = append(keys, k)
		}
	}

	var current any = claims
	for i, key := range keys {
		currentMap, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected map at path segment: %s", key)
		}

		if !strings.ContainsRune(key, '[') {
			value, exists := currentMap[key]
			if !exists {
				return nil, fmt.Errorf("key not found: %s", key)
			}
			current = value
			continue
		}

		arrayKey, indexStr, err := splitKeyAndIndex(key)
		if err != nil {
			return nil, err
		}
		array, ok := currentMap[arrayKey].([]any)
		if !ok {
			return nil, fmt.Errorf("expected array at key: %s", arrayKey)
		}

		if indexStr == "*" || indexStr == "" {
			if i == len(keys)-1 {
				return array, nil
			}
			return collect(array, keys[i+1:])
		}

		index, err := strconv.Atoi(indexStr)
		if err != nil || index < 0 || index >= len(array) {
			return nil, fmt.Errorf("invalid index %s at key: %s", indexStr, arrayKey)
		}
		current = array[index]
	}
	return current, nil
}

func splitKeyAndIndex(key string) (string, string, error) {
	start := strings.IndexByte(key, '[')
	end := strings.IndexByte(key, ']')
	if start == -1 || end == -1 || end < start {
		return "", "", fmt.Errorf("malformed array syntax in key: %s", key)
	}
	return key[:start], key[start+1 : end], nil
}

// collect applies the remaining keys to every map element of array and
// flattens the results.
func collect(array []any, rest []string) (any, error) {
	path := strings.Join(rest, ".")
	results := make([]any, 0, len(array))
	for _, item := range array {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		v, err := Claim(m, path)
		if err != nil {
			continue
		}
		if vs, ok := v.([]any); ok {
			results = append(results, vs...)
		} else {
			results = append(results, v)
		}
	}
	if len(results) == 0 {
		return nil, errNoWildcard
	}
	return results, nil
}
