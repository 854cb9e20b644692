package transfer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ftserve/ftserve/internal/core/codec"
)

// Verb identifies the operation requested by a command line.
type Verb int

const (
	VerbInvalid Verb = iota
	VerbList
	VerbGet
	VerbCD
)

var verbs = map[string]Verb{
	"LIST": VerbList,
	"GET":  VerbGet,
	"CD":   VerbCD,
}

func (v Verb) String() string {
	switch v {
	case VerbList:
		return "LIST"
	case VerbGet:
		return "GET"
	case VerbCD:
		return "CD"
	default:
		return "INVALID"
	}
}

// TakesArgument reports whether the verb operates on a path.
func (v Verb) TakesArgument() bool { return v == VerbGet || v == VerbCD }

// Command is one decoded request: `<VERB> <DATA_PORT>[ <ARG>]`.
type Command struct {
	Verb     Verb
	DataPort int
	// Arg is the path for GET and CD, which may contain spaces.
	Arg string
}

// ParseCommand decodes a control line. Any malformed command, including an
// unknown verb or a bad data port, is reported as StatusInvalidCommand.
func ParseCommand(line *codec.Line) (Command, error) {
	token := line.Next()
	verb, ok := verbs[token]
	if !ok {
		return Command{}, statusError(StatusInvalidCommand, fmt.Errorf("unknown command %q", token))
	}

	portToken := line.Next()
	port, err := strconv.Atoi(portToken)
	if err != nil || port < 1 || port > 65535 {
		return Command{Verb: verb}, statusError(StatusInvalidCommand, fmt.Errorf("invalid data port %q", portToken))
	}

	cmd := Command{Verb: verb, DataPort: port}
	if verb.TakesArgument() {
		cmd.Arg = line.Rest()
	}
	return cmd, nil
}

func (c Command) String() string {
	return strings.TrimSpace(fmt.Sprintf("%s %d %s", c.Verb, c.DataPort, c.Arg))
}
