package governance

import (
	"maps"
	"slices"
	"strings"
)

// inheritedVars are the parent variables a child process may see.
var inheritedVars = []string{
	"PATH", "HOME", "USER", "LANG", "LANGUAGE", "TZ", "TMPDIR", "TEMP", "TMP",
	"SYSTEMROOT", "WINDIR", "COMSPEC", "PATHEXT",
}

// sensitiveFragments mark a variable name as secret when it contains any of them.
var sensitiveFragments = []string{
	"TOKEN", "SECRET", "PASSWORD", "PASSWD", "PASSPHRASE", "CREDENTIAL",
	"API_KEY", "APIKEY", "ACCESS_KEY", "PRIVATE_KEY", "AUTH", "SESSION",
	"COOKIE", "SIGNING", "CERT",
}

// sensitivePrefixes cover provider-specific families.
var sensitivePrefixes = []string{
	"AWS_", "AZURE_", "GCP_", "GOOGLE_", "GITHUB_", "GH_", "GITLAB_", "NPM_",
	"DOCKER_", "VAULT_", "OPENAI_", "ANTHROPIC_", "SSH_", "KUBE",
}

var sensitiveNames = []string{
	"KUBECONFIG", "NETRC", "PGPASS", "PGPASSFILE", "DATABASE_URL", "REDIS_URL",
}

// IsSensitive reports whether name looks like it holds a credential.
func IsSensitive(name string) bool {
	upper := strings.ToUpper(name)
	if slices.Contains(sensitiveNames, upper) {
		return true
	}
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(upper, fragment) {
			return true
		}
	}
	return false
}

// SanitizeEnv builds a child environment from the allowlisted parent
// variables (plus LC_* locale settings) and the configured extras. Any name
// that IsSensitive is removed, whichever side it came from. The result is
// sorted for stable process launches.
func SanitizeEnv(parent []string, extra map[string]string) []string {
	vars := make(map[string]string)
	for _, kv := range parent {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		if slices.Contains(inheritedVars, strings.ToUpper(name)) || strings.HasPrefix(name, "LC_") {
			vars[name] = value
		}
	}
	maps.Copy(vars, extra)

	out := make([]string, 0, len(vars))
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		if IsSensitive(name) {
			continue
		}
		out = append(out, name+"="+vars[name])
	}
	return out
}
