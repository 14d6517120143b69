package inbound

import (
	"strings"
)

// DefaultCommandPrefix marks a message as a built-in command.
const DefaultCommandPrefix = "!"

// Commands interprets built-in text commands.
type Commands struct {
	prefix  string
	enabled bool
}

func NewCommands(prefix string, enabled bool) *Commands {
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}
	return &Commands{prefix: prefix, enabled: enabled}
}

// Reply returns the reply for text, or ok=false when text is not a command.
//
//	!ping            -> pong
//	!echo a b        -> a b
//	!echo            -> ...
//	!anything-else   -> unknown command: anything-else
func (c *Commands) Reply(text string) (reply string, ok bool) {
	if c == nil || !c.enabled || !strings.HasPrefix(text, c.prefix) {
		return "", false
	}

	fields := strings.Fields(strings.TrimPrefix(text, c.prefix))
	var name string
	var args []string
	if len(fields) > 0 {
		name = strings.ToLower(fields[0])
		args = fields[1:]
	}

	switch name {
	case "ping":
		return "pong", true
	case "echo":
		if len(args) == 0 {
			return "...", true
		}
		return strings.Join(args, " "), true
	default:
		return "unknown command: " + name, true
	}
}
