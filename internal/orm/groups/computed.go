package groups

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// ComputedPrefix marks a group entry backed by a method
	ComputedPrefix = "_COMPUTED_"
	// AliasPrefix separates a computed method name from its output alias
	AliasPrefix = "_ALIAS_"
)

// FormatComputedProp mangles a computed method (and optional output alias) into a group entry
func FormatComputedProp(method, alias string) string {
	if alias == "" {
		return ComputedPrefix + method
	}
	return ComputedPrefix + method + AliasPrefix + alias
}

// IsComputedProp reports whether a group entry denotes a computed method
func IsComputedProp(name string) bool {
	return strings.HasPrefix(name, ComputedPrefix)
}

// ParseComputedProp splits a mangled group entry into its method and alias
func ParseComputedProp(name string) (method, alias string, ok bool) {
	if !IsComputedProp(name) {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, ComputedPrefix)
	if i := strings.Index(rest, AliasPrefix); i >= 0 {
		return rest[:i], rest[i+len(AliasPrefix):], true
	}
	return rest, "", true
}

// ComputedPropKey returns the key a computed entry is written under:
// its alias, or the method name without its "get" prefix, lower camel cased.
func ComputedPropKey(name string) string {
	method, alias, ok := ParseComputedProp(name)
	if !ok {
		return name
	}
	if alias != "" {
		return alias
	}
	return MethodKey(method)
}

// MethodKey turns "getIdentifier" into "identifier"
func MethodKey(method string) string {
	key := method
	if rest := strings.TrimPrefix(method, "get"); rest != method && rest != "" {
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsUpper(r) {
			key = rest
		}
	}
	if key == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(key)
	return string(unicode.ToLower(r)) + key[size:]
}
