// Package identity generates and parses composite session identifiers.
//
// An identifier has the form
//
//	{client_type}_{user_id}_{context}_{YYYYMMDD_HHMMSS}_{8-hex-suffix}
//
// with the context segment collapsed when not supplied. Underscores are the
// segment separator; user IDs and contexts may legitimately contain
// underscores, so inside those segments they are encoded as a doubled
// underscore and folded back on parse. Client types reject underscores
// outright, which keeps the grammar unambiguous: after unescaping, an
// identifier splits into exactly five or six segments.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrInvalidInput indicates a user ID, client type or context that
	// fails validation. Never retried.
	ErrInvalidInput = errors.New("invalid identity input")

	// ErrMalformedID indicates a raw string that does not match the
	// identifier grammar.
	ErrMalformedID = errors.New("malformed session id")
)

// MaxComponentLen bounds user IDs and contexts.
const MaxComponentLen = 256

const (
	dateLayout = "20060102"
	timeLayout = "150405"
)

var (
	suffixRe = regexp.MustCompile(`^[0-9a-f]{8}$`)
	dateRe   = regexp.MustCompile(`^\d{8}$`)
	timeRe   = regexp.MustCompile(`^\d{6}$`)
)

// Identity is the parsed form of a session identifier.
type Identity struct {
	ClientType string
	UserID     string
	Context    string
	Timestamp  time.Time
	Suffix     string
}

// String re-encodes the identity into its wire form.
func (id Identity) String() string {
	parts := []string{id.ClientType, escapeSegment(id.UserID)}
	if id.Context != "" {
		parts = append(parts, escapeSegment(id.Context))
	}
	parts = append(parts, id.Timestamp.UTC().Format(dateLayout), id.Timestamp.UTC().Format(timeLayout), id.Suffix)
	return strings.Join(parts, "_")
}

// Generate builds a new globally unique session identifier. Context is
// optional; spaces in it are folded to hyphens before validation. The
// suffix carries 32 bits of entropy drawn from a random UUID.
func Generate(clientType, userID, context string) (string, error) {
	if err := ValidateClientType(clientType); err != nil {
		return "", err
	}
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	context = SanitizeContext(context)
	if context != "" {
		if err := validateContext(context); err != nil {
			return "", err
		}
	}

	u := uuid.New()
	id := Identity{
		ClientType: clientType,
		UserID:     userID,
		Context:    context,
		Timestamp:  time.Now().UTC(),
		Suffix:     hex.EncodeToString(u[:4]),
	}
	return id.String(), nil
}

// Parse decomposes a raw identifier into its components. The timestamp is
// returned in UTC with second precision.
func Parse(raw string) (Identity, error) {
	segs := split(raw)
	if len(segs) != 5 && len(segs) != 6 {
		return Identity{}, fmt.Errorf("%w: %q has %d segments", ErrMalformedID, raw, len(segs))
	}

	id := Identity{
		ClientType: segs[0],
		UserID:     segs[1],
		Suffix:     segs[len(segs)-1],
	}
	date, clock := segs[len(segs)-3], segs[len(segs)-2]
	if len(segs) == 6 {
		id.Context = segs[2]
	}

	if id.ClientType == "" || strings.Contains(id.ClientType, "_") {
		return Identity{}, fmt.Errorf("%w: bad client type in %q", ErrMalformedID, raw)
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("%w: empty user id in %q", ErrMalformedID, raw)
	}
	if !suffixRe.MatchString(id.Suffix) {
		return Identity{}, fmt.Errorf("%w: bad suffix in %q", ErrMalformedID, raw)
	}
	if !dateRe.MatchString(date) || !timeRe.MatchString(clock) {
		return Identity{}, fmt.Errorf("%w: bad timestamp in %q", ErrMalformedID, raw)
	}
	ts, err := time.ParseInLocation(dateLayout+"_"+timeLayout, date+"_"+clock, time.UTC)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad timestamp in %q", ErrMalformedID, raw)
	}
	id.Timestamp = ts

	return id, nil
}

// ValidateClientType rejects empty, oversized or underscore-bearing client
// types. Client types name a provider adapter (anthropic, openai, gemini).
func ValidateClientType(clientType string) error {
	if clientType == "" {
		return fmt.Errorf("%w: client type is empty", ErrInvalidInput)
	}
	if len(clientType) > MaxComponentLen {
		return fmt.Errorf("%w: client type exceeds %d bytes", ErrInvalidInput, MaxComponentLen)
	}
	if strings.ContainsAny(clientType, "_/\\ ") || strings.Contains(clientType, "..") {
		return fmt.Errorf("%w: client type %q contains reserved characters", ErrInvalidInput, clientType)
	}
	return nil
}

// ValidateUserID rejects empty or oversized user IDs and anything carrying
// path traversal sequences. Leading or trailing underscores are rejected so
// the escaped encoding stays reversible.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is empty", ErrInvalidInput)
	}
	if len(userID) > MaxComponentLen {
		return fmt.Errorf("%w: user id exceeds %d bytes", ErrInvalidInput, MaxComponentLen)
	}
	if strings.ContainsAny(userID, "/\\ ") || strings.Contains(userID, "..") {
		return fmt.Errorf("%w: user id %q contains reserved characters", ErrInvalidInput, userID)
	}
	if strings.HasPrefix(userID, "_") || strings.HasSuffix(userID, "_") {
		return fmt.Errorf("%w: user id %q must not start or end with underscore", ErrInvalidInput, userID)
	}
	return nil
}

// SanitizeContext folds spaces to hyphens and trims surrounding whitespace.
func SanitizeContext(context string) string {
	return strings.ReplaceAll(strings.TrimSpace(context), " ", "-")
}

func validateContext(context string) error {
	if len(context) > MaxComponentLen {
		return fmt.Errorf("%w: context exceeds %d bytes", ErrInvalidInput, MaxComponentLen)
	}
	if strings.ContainsAny(context, "/\\") || strings.Contains(context, "..") {
		return fmt.Errorf("%w: context %q contains reserved characters", ErrInvalidInput, context)
	}
	if strings.HasPrefix(context, "_") || strings.HasSuffix(context, "_") {
		return fmt.Errorf("%w: context %q must not start or end with underscore", ErrInvalidInput, context)
	}
	return nil
}

// escapeSegment doubles underscores so the segment separator stays
// unambiguous. Applied to the user and context segments.
func escapeSegment(seg string) string {
	return strings.ReplaceAll(seg, "_", "__")
}

// split tokenizes raw on single underscores, folding doubled underscores
// back into literal ones.
func split(raw string) []string {
	var segs []string
	var cur strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '_' {
			cur.WriteByte(raw[i])
			continue
		}
		if i+1 < len(raw) && raw[i+1] == '_' {
			cur.WriteByte('_')
			i++
			continue
		}
		segs = append(segs, cur.String())
		cur.Reset()
	}
	segs = append(segs, cur.String())
	return segs
}
