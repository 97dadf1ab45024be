// Package commandsocket implements the operator command surface: a
// Unix-domain stream socket carrying framed stdin/stdout/stderr/exit
// messages, each command an ASCII line of the shape
// "<verb> [--opt value ...]" (spec §4.7, §6).
package commandsocket

import (
	"fmt"
	"strings"
)

// compoundVerbs lists the two-word verb phrases the grammar recognises;
// any other input's first token is the verb.
var compoundVerbs = map[string]bool{
	"zone add":      true,
	"zone delete":   true,
	"key ds-submit": true,
	"key ds-seen":   true,
	"key ds-retract": true,
	"key ds-gone":   true,
	"key rollover":  true,
	"policy import": true,
	"policy resalt": true,
}

// Command is one parsed operator command line.
type Command struct {
	Verb string
	Opts map[string]string
}

// ErrSyntax marks a malformed command line; the socket reports exit code 2
// for it.
type ErrSyntax struct{ msg string }

func (e *ErrSyntax) Error() string { return e.msg }

func syntaxErrorf(format string, args ...interface{}) error {
	return &ErrSyntax{msg: fmt.Sprintf(format, args...)}
}

// Parse tokenises a command line into a verb (one or two words) and a set
// of "--opt value" pairs.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, syntaxErrorf("empty command")
	}

	verb := fields[0]
	rest := fields[1:]
	if len(fields) >= 2 {
		twoWord := fields[0] + " " + fields[1]
		if compoundVerbs[twoWord] {
			verb = twoWord
			rest = fields[2:]
		}
	}

	opts := make(map[string]string)
	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		if !strings.HasPrefix(tok, "--") {
			return Command{}, syntaxErrorf("expected an --option, got %q", tok)
		}
		name := strings.TrimPrefix(tok, "--")
		if i+1 >= len(rest) {
			return Command{}, syntaxErrorf("option --%s requires a value", name)
		}
		opts[name] = rest[i+1]
		i++
	}

	return Command{Verb: verb, Opts: opts}, nil
}
