package command

import (
	"sort"
	"strings"
)

// Registry returns all REPL commands keyed by name and alias.
func Registry() map[string]Command {
	commands := []Command{
		{Name: "help", Usage: "help", Summary: "show this help"},
		{Name: "exit", Aliases: []string{"quit"}, Usage: "exit", Summary: "leave the REPL"},
		{Name: "login", Aliases: []string{"token"}, Usage: "login <access_token>", Summary: "store an access token and resolve the participant", MinArgs: 1},
		{Name: "whoami", Usage: "whoami", Summary: "show the current participant", RequiresAuth: true},
		{Name: "logout", Usage: "logout", Summary: "revoke the token and forget it", RequiresAuth: true},
		{Name: "questions", Aliases: []string{"ls"}, Usage: "questions", Summary: "list published questions", RequiresAuth: true},
		{Name: "open", Usage: "open <question_id>", Summary: "open a question and follow the signal", MinArgs: 1, RequiresAuth: true},
		{Name: "close", Usage: "close", Summary: "close the open question", RequiresQuestion: true},
		{Name: "show", Usage: "show", Summary: "print the question and the current code", RequiresQuestion: true},
		{Name: "edit", Usage: "edit <code>", Summary: "replace the code", MinArgs: 1, RequiresQuestion: true},
		{Name: "append", Aliases: []string{"type"}, Usage: "append <line>", Summary: "append a line to the code", MinArgs: 1, RequiresQuestion: true},
		{Name: "load", Usage: "load <file>", Summary: "replace the code with a file's content", MinArgs: 1, RequiresQuestion: true},
		{Name: "run", Usage: "run", Summary: "run the code remotely", RequiresQuestion: true},
		{Name: "submit", Usage: "submit", Summary: "grade the code and record the score", RequiresQuestion: true},
		{Name: "retry", Usage: "retry", Summary: "resend the last score that failed to record", RequiresQuestion: true},
		{Name: "signal", Usage: "signal [green|red]", Summary: "show the signal, or set it with an admin token", RequiresAuth: true},
		{Name: "team", Usage: "team [team_id]", Summary: "show team totals", RequiresAuth: true},
		{Name: "leaderboard", Aliases: []string{"lb"}, Usage: "leaderboard [round=round4] [limit=10]", Summary: "show the leading teams", RequiresAuth: true, KeyValue: true},
	}

	result := make(map[string]Command, len(commands)*2)
	for _, cmd := range commands {
		result[cmd.Name] = cmd
		for _, alias := range cmd.Aliases {
			result[alias] = cmd
		}
	}
	return result
}

// Lookup resolves a command name or alias, case-insensitively.
func Lookup(commands map[string]Command, name string) (Command, bool) {
	cmd, ok := commands[strings.ToLower(name)]
	return cmd, ok
}

// Unique returns each command once, ordered by name.
func Unique(commands map[string]Command) []Command {
	seen := make(map[string]bool, len(commands))
	result := make([]Command, 0, len(commands))
	for _, cmd := range commands {
		if seen[cmd.Name] {
			continue
		}
		seen[cmd.Name] = true
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
