package config

import "os"

// Env override variables. Framing forcing exists for hosts whose
// framing detection on the other side is broken; debug mirrors
// --verbose for hosts that cannot pass flags.
const (
	EnvForceNewline       = "MCP_FORCE_NEWLINE"
	EnvForceContentLength = "MCP_FORCE_CONTENT_LENGTH"
	EnvDebug              = "MCP_DEBUG"
)

// EnvOverrides carries the environment-driven knobs that sit outside
// the config file.
type EnvOverrides struct {
	ForceNewline       bool
	ForceContentLength bool
	Debug              bool
}

// ReadEnv snapshots the override variables. A variable counts as set
// when it holds "1" or "true".
func ReadEnv() EnvOverrides {
	return EnvOverrides{
		ForceNewline:       envTruthy(EnvForceNewline),
		ForceContentLength: envTruthy(EnvForceContentLength),
		Debug:              envTruthy(EnvDebug),
	}
}

func envTruthy(name string) bool {
	v := os.Getenv(name)
	return v == "1" || v == "true"
}
