// Package identity derives the privacy-preserving user identity and the
// message fingerprint that together key a job record.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrNoIdentity is returned when a key is requested without a user identity.
var ErrNoIdentity = errors.New("identity: no user identity")

// UserIdentity is a one-way digest of the principal's display name.
// The empty value means "not authenticated".
type UserIdentity string

// Fingerprint is a digest of the raw message bytes.
type Fingerprint string

// NewUserIdentity hashes principalName. An empty name yields no identity.
func NewUserIdentity(principalName string) UserIdentity {
	if principalName == "" {
		return ""
	}
	return UserIdentity(digest(principalName))
}

// NewFingerprint hashes text byte for byte. No trimming or case folding is
// applied, so the same bytes always land on the same key.
func NewFingerprint(text string) Fingerprint {
	return Fingerprint(digest(text))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// JobKey identifies "this user asked this exact question".
type JobKey struct {
	User        UserIdentity
	Fingerprint Fingerprint
}

// NewJobKey builds the key for user asking text.
func NewJobKey(user UserIdentity, text string) (JobKey, error) {
	if user == "" {
		return JobKey{}, ErrNoIdentity
	}
	return JobKey{User: user, Fingerprint: NewFingerprint(text)}, nil
}

// String renders the key used in the store: job:<USER>:<FINGERPRINT>
func (k JobKey) String() string {
	return fmt.Sprintf("job:%s:%s", k.User, k.Fingerprint)
}

// ParseJobKey is the inverse of JobKey.String.
func ParseJobKey(key string) (JobKey, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "job" || parts[1] == "" || parts[2] == "" {
		return JobKey{}, false
	}
	return JobKey{
		User:        UserIdentity(parts[1]),
		Fingerprint: Fingerprint(parts[2]),
	}, true
}
