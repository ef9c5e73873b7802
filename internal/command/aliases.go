package command

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
)

// Placeholder marks the argument slot in an alias template.
const Placeholder = "%s"

//go:embed aliases.yaml
var defaultAliases []byte

// AliasTable maps a command alias to the argument vector it runs.
type AliasTable map[string][]string

type aliasFile struct {
	Commands map[string][]string `yaml:"commands"`
}

// DefaultAliases returns the alias table compiled into the binary.
func DefaultAliases() (AliasTable, error) {
	return ParseAliases(defaultAliases)
}

// LoadAliases reads an alias table from path, or the built-in table when path
// is empty.
func LoadAliases(path string) (AliasTable, error) {
	if path == "" {
		return DefaultAliases()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading command aliases: %v", internalerrors.ErrConfiguration, err)
	}
	return ParseAliases(data)
}

// ParseAliases decodes and validates a YAML alias table.
func ParseAliases(data []byte) (AliasTable, error) {
	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing command aliases: %v", internalerrors.ErrConfiguration, err)
	}
	table := make(AliasTable, len(file.Commands))
	for alias, argv := range file.Commands {
		if len(argv) == 0 || argv[0] == "" {
			return nil, fmt.Errorf("%w: alias %q has no executable", internalerrors.ErrConfiguration, alias)
		}
		if strings.Contains(argv[0], Placeholder) {
			return nil, fmt.Errorf("%w: alias %q substitutes its executable", internalerrors.ErrConfiguration, alias)
		}
		slots := 0
		for _, arg := range argv {
			slots += strings.Count(arg, Placeholder)
		}
		if slots > 1 {
			return nil, fmt.Errorf("%w: alias %q has %d placeholders", internalerrors.ErrConfiguration, alias, slots)
		}
		table[alias] = append([]string(nil), argv...)
	}
	return table, nil
}

// Resolve expands alias with argument into an argument vector. An alias with
// a placeholder needs a non-empty argument; an alias without one ignores it.
func (t AliasTable) Resolve(alias, argument string) ([]string, bool) {
	template, ok := t[alias]
	if !ok {
		return nil, false
	}
	argv := make([]string, len(template))
	for i, arg := range template {
		if strings.Contains(arg, Placeholder) {
			if argument == "" {
				return nil, false
			}
			arg = strings.Replace(arg, Placeholder, argument, 1)
		}
		argv[i] = arg
	}
	return argv, true
}
