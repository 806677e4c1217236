package vars

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/restrun/internal/errdef"
)

const dotEnvDefaultName = "default"

// EnvironmentSet maps environment names to their variables.
type EnvironmentSet map[string]map[string]string

func IsDotEnvPath(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return false
	}
	return base == ".env" || strings.HasPrefix(base, ".env.") || strings.HasSuffix(base, ".env")
}

// LoadEnvironmentFile reads .env, JSON or YAML environment definitions.
// JSON and YAML files hold {"name": {"key": "value"}}; a dotenv file holds
// a single environment named after the file or its workspace key.
func LoadEnvironmentFile(path string) (EnvironmentSet, error) {
	if IsDotEnvPath(path) {
		return loadDotEnv(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read env file %s", path)
	}
	envs := EnvironmentSet{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &envs); err != nil {
			return nil, errdef.Wrap(errdef.CodeParse, err, "parse env file %s", path)
		}
	default:
		if err := json.Unmarshal(data, &envs); err != nil {
			return nil, errdef.Wrap(errdef.CodeParse, err, "parse env file %s", path)
		}
	}
	return envs, nil
}

func loadDotEnv(path string) (EnvironmentSet, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "parse env file %s", path)
	}
	name := deriveDotEnvName(values, path)
	for key := range values {
		if isWorkspaceKey(key) {
			delete(values, key)
		}
	}
	return EnvironmentSet{name: values}, nil
}

func deriveDotEnvName(values map[string]string, path string) string {
	for key, value := range values {
		if isWorkspaceKey(key) && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	switch {
	case lower == ".env":
		return dotEnvDefaultName
	case strings.HasPrefix(lower, ".env.") && len(base) > len(".env."):
		return strings.TrimSpace(base[len(".env."):])
	case strings.HasSuffix(lower, ".env") && len(base) > len(".env"):
		return strings.TrimSpace(base[:len(base)-len(".env")])
	}
	return dotEnvDefaultName
}

func isWorkspaceKey(key string) bool {
	return strings.EqualFold(strings.TrimSpace(key), "workspace")
}
