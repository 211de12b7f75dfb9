package provider

import (
	"fmt"
	"os"
	"strings"
)

// secretPrefixes names environment variables stripped from the child's
// environment (there is no per-variable exception; only the provider-specific
// variables passed to buildEnvironment are added back): broad categories of ambient
// credentials that have no business leaking into an actor child process
// (§4.3: "removes secrets not whitelisted").
var secretPrefixes = []string{
	"AWS_", "GCP_", "GOOGLE_", "AZURE_", "NPM_TOKEN", "GITHUB_TOKEN",
	"GH_TOKEN", "DOCKER_", "STEROIDS_",
}

// buildEnvironment starts from the process environment, strips
// secret-shaped variables, points HOME at the isolated home,
// and layers in provider-specific variables.
func buildEnvironment(isolatedHomePath string, extra map[string]string) []string {
	base := os.Environ()
	out := make([]string, 0, len(base)+len(extra)+1)
	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if key == "HOME" {
			continue // replaced below
		}
		if isSecretLike(key) {
			continue
		}
		out = append(out, kv)
	}
	out = append(out, fmt.Sprintf("HOME=%s", isolatedHomePath))
	for k, v := range extra {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func isSecretLike(key string) bool {
	for _, prefix := range secretPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
