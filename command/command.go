package command

import "strings"

// Kind identifies what a controller line asks for.
type Kind int

const (
	KindUnknown Kind = iota
	KindStart
	KindStop
	KindExit
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Command is one decoded controller line. Text holds the normalized line.
type Command struct {
	Kind Kind
	Text string
}

// Parse trims and lower-cases line and maps it onto a Command.
func Parse(line string) Command {
	text := strings.ToLower(strings.TrimSpace(line))

	switch text {
	case "start":
		return Command{Kind: KindStart, Text: text}
	case "stop":
		return Command{Kind: KindStop, Text: text}
	case "exit":
		return Command{Kind: KindExit, Text: text}
	}

	return Command{Kind: KindUnknown, Text: text}
}
