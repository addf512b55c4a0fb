package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Command defines a REPL command.
type Command struct {
	Name         string
	Aliases      []string
	Usage        string
	Summary      string
	RequiresAuth bool

	// MinArgs counts positional arguments after the command name.
	MinArgs int

	// RequiresQuestion is set for commands that act on the open question.
	RequiresQuestion bool

	// KeyValue commands take key=value params; all others keep '=' in their arguments.
	KeyValue bool
}

// Params holds parsed key=value input.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

// Split separates positional arguments from key=value params for KeyValue
// commands. For other commands every token is positional.
func Split(cmd Command, tokens []string) ([]string, Params) {
	params := Params{}
	if !cmd.KeyValue {
		return tokens, params
	}
	args := make([]string, 0, len(tokens))
	for _, token := range tokens {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			params.Set(parts[0], parts[1])
			continue
		}
		args = append(args, token)
	}
	return args, params
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
