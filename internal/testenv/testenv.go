// Package testenv prepares the process environment for tests that load the
// application config.
package testenv

import "testing"

// Memory points the config at the in-memory store with Redis disabled and
// marks the process as running under test. Values are restored when t ends.
func Memory(t testing.TB) {
	t.Helper()
	t.Setenv("BOOKKEEPER_TEST_MODE", "1")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "error")
}
