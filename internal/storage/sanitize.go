package storage

import (
	"fmt"
	"strings"
)

// Windows device names are reserved even with an extension; creating them
// through a shared file store would shadow real sessions (CWE-22 family).
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

const maxSessionIDLen = 512

// ValidateSessionID rejects session IDs that are unsafe to use as a storage
// key: path separators, traversal sequences, reserved device names, control
// characters. Every backend calls this before touching its key space; it is
// a hard security invariant, not a convenience check.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if len(sessionID) > maxSessionIDLen {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidSessionID, maxSessionIDLen)
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSessionID, sessionID)
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("%w: %q contains a traversal sequence", ErrInvalidSessionID, sessionID)
	}
	if sessionID == "." {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	for _, r := range sessionID {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: contains control characters", ErrInvalidSessionID)
		}
	}
	base := strings.ToLower(sessionID)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if reservedNames[base] {
		return fmt.Errorf("%w: %q is a reserved name", ErrInvalidSessionID, sessionID)
	}
	return nil
}
