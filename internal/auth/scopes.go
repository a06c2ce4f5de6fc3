// Package auth implements OAuth2 client-credentials authentication: client
// management, bcrypt secret hashing, JWT bearer tokens, and the scope grammar
// gating every protected request.
package auth

import (
	"fmt"
	"strings"
)

// Superuser scope.
const ScopeAll = "*"

// validBaseScopes is the fixed scope vocabulary. An object-scoped grant
// (resource:action:object_id) must have a valid resource:action base.
var validBaseScopes = map[string]struct{}{
	ScopeAll:                {},
	"topics:create":         {},
	"topics:read":           {},
	"topics:delete":         {},
	"topics:publish":        {},
	"subscriptions:create":  {},
	"subscriptions:read":    {},
	"subscriptions:delete":  {},
	"subscriptions:consume": {},
	"clients:create":        {},
	"clients:update":        {},
	"clients:read":          {},
	"clients:delete":        {},
}

// ValidateScopes checks a space-separated scope string against the vocabulary.
func ValidateScopes(scopes string) error {
	if strings.TrimSpace(scopes) == "" {
		return fmt.Errorf("scopes must not be empty")
	}
	for _, scope := range strings.Fields(scopes) {
		base := scope
		if parts := strings.Split(scope, ":"); len(parts) == 3 {
			base = parts[0] + ":" + parts[1]
		}
		if _, ok := validBaseScopes[base]; !ok {
			return fmt.Errorf("invalid scope %q", scope)
		}
	}
	return nil
}

// ParseScopes splits a space-separated scope string into a set.
func ParseScopes(scopes string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, scope := range strings.Fields(scopes) {
		set[scope] = struct{}{}
	}
	return set
}

// HasScope reports whether the token scopes grant the action on the resource.
// A grant passes with "*", "resource:action", or "resource:action:object_id"
// when objectID is non-empty.
func HasScope(tokenScopes map[string]struct{}, resource, action, objectID string) bool {
	if _, ok := tokenScopes[ScopeAll]; ok {
		return true
	}
	base := resource + ":" + action
	if _, ok := tokenScopes[base]; ok {
		return true
	}
	if objectID != "" {
		if _, ok := tokenScopes[base+":"+objectID]; ok {
			return true
		}
	}
	return false
}
