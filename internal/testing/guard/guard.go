// Package guard switches the process into test mode when imported. Test
// binaries blank-import it so app.InTestMode reports true and binaries skip
// dialling Postgres or Redis.
package guard

import "os"

const (
	testModeEnv = "PLATFORM_TEST_MODE"
	secretEnv   = "JWT_SECRET"
)

func init() {
	setDefault(testModeEnv, "1")
	setDefault(secretEnv, "test-secret-not-for-production")
}

func setDefault(key, value string) {
	if _, ok := os.LookupEnv(key); !ok {
		_ = os.Setenv(key, value)
	}
}
