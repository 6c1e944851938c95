// Package security provides validation, sanitization, and API-key hashing
// for the dispatch engine.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/relayforge/dispatch/internal/core"
)

// Limits and configuration.
const (
	// MaxPromptSize is the maximum size in bytes for a job prompt.
	MaxPromptSize = 1 << 20

	// MaxErrorMessageLength is the maximum length for stored error/updates lines.
	MaxErrorMessageLength = 4096

	// MaxCommentLength is the maximum length of a single user comment.
	MaxCommentLength = 8192

	// MaxComments is the maximum number of comments retained per job version.
	MaxComments = 200
)

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateQueueType validates that a queue type string is one of the two
// queues the engine understands. Empty is valid — it means "not queued".
func ValidateQueueType(qt core.QueueType) error {
	switch qt {
	case core.QueueNone, core.QueueBacklog, core.QueueRework:
		return nil
	default:
		return core.ErrInvalidQueueType
	}
}

// ValidateJobTypeName validates a free-form identifier such as an activity
// or handler name against the same character set the teacher used for job
// type names — alphanumeric, starting with a letter.
func ValidateJobTypeName(name string) error {
	if name == "" || len(name) > 255 || !validName.MatchString(name) {
		return core.ErrInvalidJobTypeName
	}
	return nil
}

// SanitizeErrorMessage truncates and strips control characters from an
// error string before it is persisted to Job.Updates or Job.LastError-style
// columns, preventing terminal-escape or log-injection payloads from an
// agent's stderr making it into stored audit data.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}

	result := b.String()
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}
	return result
}

// ClampComments trims a comment slice to the retained limit and truncates
// any individual comment that exceeds MaxCommentLength.
func ClampComments(comments []string) []string {
	if len(comments) > MaxComments {
		comments = comments[len(comments)-MaxComments:]
	}
	out := make([]string, len(comments))
	for i, c := range comments {
		if utf8.RuneCountInString(c) > MaxCommentLength {
			runes := []rune(c)
			c = string(runes[:MaxCommentLength-3]) + "..."
		}
		out[i] = c
	}
	return out
}

// HashAPIKey hashes a raw agent API key for storage and lookup. Unlike a
// human-chosen password, an agent API key is a high-entropy random token
// generated at provisioning time, so a deterministic digest (rather than a
// per-hash-salted, slow KDF like bcrypt) is the correct tool: §4.2 requires
// resolving an incoming key straight to its owning org by an indexed
// `api_key_hash` lookup, which only a deterministic hash supports. Agent
// registration never stores or compares the plaintext key.
func HashAPIKey(rawKey string) (string, error) {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:]), nil
}
