// Package cli is the operator shell: subsystems register named commands
// with argv callbacks, and Run feeds it lines.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/google/shlex"
)

// Handler is an operator command: argv (including the command name) and a
// writer for its output.
type Handler func(argv []string, out io.Writer)

// Shell is a registry of named operator commands.
type Shell struct {
	commands map[string]Handler
	prompt   string
}

// New creates an empty shell.
func New() *Shell {
	return &Shell{
		commands: make(map[string]Handler),
		prompt:   "grouter> ",
	}
}

// Register adds a named command. Re-registering a name is an error.
func (s *Shell) Register(name string, h Handler) error {
	if _, ok := s.commands[name]; ok {
		return fmt.Errorf("cli: command %q already registered", name)
	}
	s.commands[name] = h
	return nil
}

// Dispatch tokenizes one input line and invokes the matching command.
func (s *Shell) Dispatch(line string, out io.Writer) error {
	argv, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("cli: %w", err)
	}
	if len(argv) == 0 {
		return nil
	}
	h, ok := s.commands[argv[0]]
	if !ok {
		return fmt.Errorf("cli: unknown command %q", argv[0])
	}
	h(argv, out)
	return nil
}

// Run reads lines from r until EOF, dispatching each. "help" and "exit"
// are built in.
func (s *Shell) Run(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, s.prompt)
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		switch line {
		case "exit", "quit":
			return
		case "help":
			for _, name := range s.names() {
				fmt.Fprintln(w, name)
			}
			continue
		}
		if err := s.Dispatch(line, w); err != nil {
			fmt.Fprintln(w, err)
		}
	}
}

func (s *Shell) names() []string {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
