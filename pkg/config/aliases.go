package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AliasConfig holds operator-defined shorthand for agent ids, so a CLI or
// dashboard command can accept "jarvis" in place of the full configured
// agent identifier.
type AliasConfig struct {
	Aliases map[string]string `yaml:"aliases"` // alias -> agent id
}

// DefaultAliases returns an empty alias set.
func DefaultAliases() *AliasConfig {
	return &AliasConfig{Aliases: map[string]string{}}
}

// LoadAliases loads the alias file, falling back to an empty set when
// missing or unparsable.
func LoadAliases() (*AliasConfig, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return DefaultAliases(), nil
	}

	aliasPath := filepath.Join(configDir, "aliases.yaml")
	data, err := os.ReadFile(aliasPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultAliases(), nil
		}
		return nil, err
	}

	var aliases AliasConfig
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return DefaultAliases(), nil
	}
	if aliases.Aliases == nil {
		aliases.Aliases = map[string]string{}
	}
	return &aliases, nil
}

// SaveAliases writes the alias file.
func SaveAliases(aliases *AliasConfig) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(aliases)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, "aliases.yaml"), data, 0644)
}

// Resolve returns the agent id an alias points to, or input unchanged if
// it isn't a known alias.
func (a *AliasConfig) Resolve(input string) string {
	if a == nil || a.Aliases == nil {
		return input
	}
	if resolved, ok := a.Aliases[input]; ok {
		return resolved
	}
	return input
}

// GetAll returns every configured alias.
func (a *AliasConfig) GetAll() map[string]string {
	if a == nil || a.Aliases == nil {
		return map[string]string{}
	}
	return a.Aliases
}
