// Package config handles ccbridge.yaml loading for the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches $${...} escapes and ${VAR}, ${VAR:-default} and
// ${VAR:?message} references.
var envVarPattern = regexp.MustCompile(`\$\$\{|\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv replaces environment references in input.
//
//   - ${VAR} expands to the value, or "" when unset.
//   - ${VAR:-default} expands to the value, or default when unset or empty.
//   - ${VAR:?message} expands to the value and fails with message when
//     unset or empty.
//   - $${ is a literal "${".
//
// Every missing required variable is reported, not only the first.
func ExpandEnv(input string) (string, error) {
	var errs []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		if match == "$${" {
			return "${"
		}
		groups := envVarPattern.FindStringSubmatch(match)
		name, op, arg := groups[1], groups[2], groups[3]

		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		switch op {
		case "-":
			return arg
		case "?":
			msg := strings.TrimSpace(arg)
			if msg == "" {
				msg = "required"
			}
			errs = append(errs, fmt.Errorf("${%s}: %s", name, msg))
		}
		return ""
	})
	return out, errors.Join(errs...)
}
