package schema

import (
	"strings"
	"unicode"
)

// ValidateSessionID ensures a session id matches [a-zA-Z0-9._-].
func ValidateSessionID(id SessionID) error {
	if err := validateEntityID(string(id)); err != nil {
		return ErrSessionNotFound
	}
	return nil
}

// ValidateTerminalID ensures a terminal id matches [a-zA-Z0-9._-].
func ValidateTerminalID(id TerminalID) error {
	if err := validateEntityID(string(id)); err != nil {
		return ErrTerminalNotFound
	}
	return nil
}

// ValidateSpaceID ensures a space slug matches [a-z0-9._-].
func ValidateSpaceID(id SpaceID) error {
	raw := string(id)
	if raw == "" || strings.TrimSpace(raw) != raw {
		return ErrSpaceNotFound
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrSpaceNotFound
	}
	return nil
}

// NormalizePermissionReply validates a permission reply value.
func NormalizePermissionReply(value string) (PermissionReply, error) {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	switch PermissionReply(trimmed) {
	case PermissionOnce, PermissionAlways, PermissionReject:
		return PermissionReply(trimmed), nil
	default:
		return "", ErrInvalidReply
	}
}

func validateEntityID(raw string) error {
	if raw == "" || strings.TrimSpace(raw) != raw {
		return ErrInvalidRequest
	}
	for _, r := range raw {
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return ErrInvalidRequest
	}
	return nil
}
