package lexiread

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// cachedSession is the on-disk form of a logged in session.
type cachedSession struct {
	User     User      `json:"user"`
	CachedAt time.Time `json:"cached_at"`
}

// resetGrant is the capability issued by OTP verification.
type resetGrant struct {
	email    string
	token    string
	issuedAt time.Time
}

func (g *resetGrant) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(g.issuedAt) > ttl
}

func readSessionCache(path string) (*User, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "read token cache")
	}
	s := &cachedSession{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "decode token cache")
	}
	if s.User.Token == "" {
		return nil, nil
	}
	return &s.User, nil
}

func writeSessionCache(path string, user *User, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "create token cache dir")
	}
	data, err := json.Marshal(&cachedSession{User: *user, CachedAt: now})
	if err != nil {
		return errors.Wrap(err, "encode token cache")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o600), "write token cache")
}

func removeSessionCache(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove token cache")
	}
	return nil
}
