package models

import (
	"fmt"
	"strings"
)

// Visibility controls who can retrieve a file. It is a closed enumeration:
// unknown values are rejected at the boundary, before any external call.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilityShared  Visibility = "shared"
)

// ParseVisibility normalizes a user-supplied visibility string.
// Matching is case-insensitive.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(strings.ToLower(strings.TrimSpace(s))) {
	case VisibilityPrivate:
		return VisibilityPrivate, nil
	case VisibilityPublic:
		return VisibilityPublic, nil
	case VisibilityShared:
		return VisibilityShared, nil
	default:
		return "", fmt.Errorf("invalid visibility %q: must be 'private', 'public', or 'shared'", s)
	}
}

// AccessCode returns the numeric encoding the ledger contract recognizes.
func (v Visibility) AccessCode() uint8 {
	switch v {
	case VisibilityPublic:
		return 1
	case VisibilityShared:
		return 2
	default:
		return 0
	}
}
