package terminal

import (
	"fmt"
	"os"
	"strings"

	acp "github.com/coder/acp-go-sdk"

	"github.com/kandev/acpchat/internal/acp/rpcerr"
)

// deniedEnvVars can inject native libraries or interpreter startup code.
// Agents may never set them, whatever the letter case.
var deniedEnvVars = map[string]struct{}{
	"LD_PRELOAD":            {},
	"LD_LIBRARY_PATH":       {},
	"LD_AUDIT":              {},
	"DYLD_INSERT_LIBRARIES": {},
	"DYLD_LIBRARY_PATH":     {},
	"DYLD_FRAMEWORK_PATH":   {},
	"PYTHONPATH":            {},
	"PYTHONSTARTUP":         {},
	"PYTHONHOME":            {},
	"NODE_OPTIONS":          {},
	"BASH_ENV":              {},
	"ENV":                   {},
}

// IsDeniedEnvVar reports whether name is on the deny-list.
func IsDeniedEnvVar(name string) bool {
	_, denied := deniedEnvVars[strings.ToUpper(name)]
	return denied
}

// buildEnv returns nil (inherit) when no overrides are given, otherwise the
// parent environment followed by the overrides.
func buildEnv(vars []acp.EnvVariable) ([]string, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	env := os.Environ()
	for _, v := range vars {
		if IsDeniedEnvVar(v.Name) {
			return nil, rpcerr.InvalidParams("env", fmt.Sprintf("setting %q is not allowed", v.Name))
		}
		env = append(env, v.Name+"="+v.Value)
	}
	return env, nil
}
