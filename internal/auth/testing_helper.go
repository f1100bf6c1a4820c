// internal/auth/testing_helper.go
package auth

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/seanankenbruck/kql-resolver/internal/session"
)

// NewTestAuthManager creates an auth manager whose sessions live in an
// in-memory miniredis. Everything is torn down with the test.
func NewTestAuthManager(t testing.TB, config AuthConfig) *AuthManager {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	if config.SessionExpiry == 0 {
		config.SessionExpiry = 7 * 24 * time.Hour
	}

	am := NewAuthManager(config, session.NewManager(rdb, config.SessionExpiry))
	t.Cleanup(func() {
		am.Close()
		rdb.Close()
	})
	return am
}
