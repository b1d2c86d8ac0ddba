package shortener

import (
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxTargetURLLength = 1024
	MaxTitleLength     = 255
	MaxCodeLength      = 64
	DefaultLinkTTL     = 7 * 24 * time.Hour
)

// Link is the only persisted entity. ID and Code never change once the row
// is durable; a zero ID means the link has not been inserted yet.
type Link struct {
	ID        uuid.UUID
	OwnerID   string
	Code      string
	TargetURL string
	Title     *string
	Notes     *string
	Active    bool
	IsCustom  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Pending reports whether the link has not been persisted yet.
func (l Link) Pending() bool {
	return l.ID == uuid.Nil
}

// Resolvable reports whether the code should currently redirect.
func (l Link) Resolvable(now time.Time) bool {
	if !l.Active {
		return false
	}
	return l.ExpiresAt == nil || now.Before(*l.ExpiresAt)
}

// CreateLinkRequest holds the caller input for CreateLink. Code is the
// optional custom code; Active defaults to true when nil.
type CreateLinkRequest struct {
	OwnerID   string
	TargetURL string
	Code      string
	Active    *bool
	Title     *string
	ExpiresAt *time.Time
}

// CreateLinkResponse is what a successful CreateLink returns.
type CreateLinkResponse struct {
	ID        uuid.UUID
	Code      string
	ShortURL  string
	TargetURL string
	CreatedAt time.Time
}

// UpdateLinkRequest carries a partial update; nil fields keep their value.
type UpdateLinkRequest struct {
	TargetURL *string
	Active    *bool
	Title     *string
}

// Empty reports whether the request changes nothing.
func (r UpdateLinkRequest) Empty() bool {
	return r.TargetURL == nil && r.Active == nil && r.Title == nil
}

// NormalizeTargetURL trims the input and prepends https:// unless it already
// carries an http or https scheme.
func NormalizeTargetURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

func validateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return errors.New("owner id cannot be empty")
	}
	return nil
}

// validateTargetURL checks an already normalized target.
func validateTargetURL(target string) error {
	if target == "" {
		return errors.New("target url cannot be empty")
	}
	if len(target) > MaxTargetURLLength {
		return errors.New("target url too long (max 1024 characters)")
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return errors.New("invalid target url format")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("target url scheme must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("target url must include host")
	}
	return nil
}

func validateTitle(title *string) error {
	if title != nil && utf8.RuneCountInString(*title) > MaxTitleLength {
		return errors.New("title too long (max 255 characters)")
	}
	return nil
}

func validateCode(code string) error {
	if len(code) > MaxCodeLength {
		return errors.New("code too long (maximum 64 characters)")
	}
	for _, char := range code {
		if !isValidCodeChar(char) {
			return errors.New("code contains invalid characters (only alphanumeric, dash, and underscore allowed)")
		}
	}
	return nil
}

func isValidCodeChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	default:
		return false
	}
}
