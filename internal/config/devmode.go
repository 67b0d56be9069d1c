package config

import "os"

// DevEnvVar forces dev mode when set to any non-empty value.
const DevEnvVar = "DESKHOST_DEV"

// IsDevMode reports whether the backend should run its development
// invocation: a devbuild binary, or DESKHOST_DEV set in the environment.
func IsDevMode() bool {
	return debugBuild || os.Getenv(DevEnvVar) != ""
}
