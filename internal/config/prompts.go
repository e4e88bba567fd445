package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Prompts holds operator-supplied overrides for the intake prompt texts.
// Empty fields keep the built-in defaults.
type Prompts struct {
	SystemPrompt string `yaml:"system_prompt"`

	// Framings keyed by intent tag: business, study, standard_software.
	Framings map[string]string `yaml:"framings"`
}

// LoadPrompts reads and parses the prompt-override YAML file, expanding
// ${VAR} and $VAR references against the environment.
func LoadPrompts(path string) (*Prompts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	return LoadPromptsBytes(raw)
}

// LoadPromptsBytes parses prompt overrides from bytes (useful for testing).
func LoadPromptsBytes(data []byte) (*Prompts, error) {
	expanded := expandEnvVars(string(data))
	var p Prompts
	if err := yaml.Unmarshal([]byte(expanded), &p); err != nil {
		return nil, fmt.Errorf("prompts: parse: %w", err)
	}
	return &p, nil
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
