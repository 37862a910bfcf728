package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "PLATFORM_TEST_MODE"

var (
	testModeMu sync.RWMutex
	testMode   *bool
)

// InTestMode reports whether PLATFORM_TEST_MODE is set to a true value. The
// binaries exit before dialling Postgres or Redis when it is.
func InTestMode() bool {
	testModeMu.RLock()
	cached := testMode
	testModeMu.RUnlock()
	if cached != nil {
		return *cached
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	enabled, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testModeMu.Lock()
	testMode = &enabled
	testModeMu.Unlock()
	return enabled
}
