// Package model holds the core ingestion records (Person, Video, Progress)
// and their construction-time invariants. Stores persist these types verbatim;
// validation failures here are terminal and never retried.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrValidation marks an invariant violation at construction. Callers can test
// with errors.Is; validation failures fail fast and are never routed to retry.
var ErrValidation = errors.New("validation")

// channelURLPattern accepts the normalized platform channel URL shapes
// (/channel/<id>, /c/<name>, /user/<name>, /@<handle>) on youtube.com hosts.
var channelURLPattern = regexp.MustCompile(`^https://(www\.|m\.)?youtube\.com/(channel/[A-Za-z0-9_-]{10,}|c/[^/\s]+|user/[^/\s]+|@[^/\s]+)/?$`)

// Person is a channel owner. Uniqueness is by channel reference URL.
type Person struct {
	ID         int64
	Name       string
	Email      string
	Type       string
	ChannelURL string
	ChannelID  string // platform-native id, filled in by extraction
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate enforces the person invariants before persistence.
func (p *Person) Validate() error {
	if p.Name == "" || p.Name != strings.TrimSpace(p.Name) {
		return fmt.Errorf("%w: name must be non-empty with no surrounding whitespace", ErrValidation)
	}
	if len(p.Name) > 255 {
		return fmt.Errorf("%w: name exceeds 255 characters", ErrValidation)
	}
	if p.Email != "" {
		if err := validateEmail(p.Email); err != nil {
			return err
		}
	}
	if !channelURLPattern.MatchString(p.ChannelURL) {
		return fmt.Errorf("%w: channel_url %q is not a recognized platform channel URL", ErrValidation, p.ChannelURL)
	}
	return nil
}

// validateEmail applies the store-level email rules: exactly one @, a non-empty
// local part, a dotted domain, no consecutive dots, no spaces.
func validateEmail(email string) error {
	if strings.ContainsAny(email, " \t") {
		return fmt.Errorf("%w: email must not contain spaces", ErrValidation)
	}
	if strings.Count(email, "@") != 1 {
		return fmt.Errorf("%w: email must contain exactly one @", ErrValidation)
	}
	at := strings.Index(email, "@")
	local, domain := email[:at], email[at+1:]
	if local == "" {
		return fmt.Errorf("%w: email local part must not be empty", ErrValidation)
	}
	if !strings.Contains(domain, ".") {
		return fmt.Errorf("%w: email domain must contain a dot", ErrValidation)
	}
	if strings.Contains(email, "..") {
		return fmt.Errorf("%w: email must not contain consecutive dots", ErrValidation)
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return fmt.Errorf("%w: email domain must not start or end with a dot", ErrValidation)
	}
	return nil
}
