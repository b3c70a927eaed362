package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &usageError{msg: fmt.Sprintf("%s: accepts %d arg(s), received %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

// splitPair splits "key=value". The key must not be empty.
func splitPair(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", &usageError{msg: fmt.Sprintf("invalid assignment %q (expected key=value)", s)}
	}
	return key, value, nil
}

// parseAssignments turns key=value pairs into attributes. A value that parses
// as JSON keeps its JSON type; anything else is a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	attrs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, err := splitPair(p)
		if err != nil {
			return nil, err
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			parsed = raw
		}
		attrs[key] = parsed
	}
	return attrs, nil
}

// parseData decodes a JSON object given with --data.
func parseData(data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, &usageError{msg: fmt.Sprintf("invalid --data: %v", err)}
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}
