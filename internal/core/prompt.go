package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// SecretSource supplies the administrator secret for a new config file.
// An empty result means "use the default".
type SecretSource interface {
	Secret(ctx context.Context) (string, error)
}

// StaticSecret is a secret supplied up front, e.g. by flag or environment.
type StaticSecret string

func (s StaticSecret) Secret(context.Context) (string, error) { return string(s), nil }

// TerminalSecret prompts on Out and reads one line from In. Input is hidden
// when In is a terminal.
type TerminalSecret struct {
	In     *os.File
	Out    io.Writer
	Prompt string
}

func NewTerminalSecret(defaultSecret string) *TerminalSecret {
	return &TerminalSecret{
		In:     os.Stdin,
		Out:    os.Stderr,
		Prompt: fmt.Sprintf("Admin password (Enter for default %q): ", defaultSecret),
	}
}

func (t *TerminalSecret) Secret(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(t.Out, t.Prompt)
	fd := int(t.In.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(t.Out)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(t.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Acknowledger holds a fatal message on screen until the operator has read it.
type Acknowledger interface {
	Acknowledge()
}

// EnterAck waits for a newline on In.
type EnterAck struct {
	In  io.Reader
	Out io.Writer
}

func (a EnterAck) Acknowledge() {
	fmt.Fprint(a.Out, "Press Enter to exit...")
	_, _ = bufio.NewReader(a.In).ReadString('\n')
}

// NoPause returns immediately. Used for unattended runs.
type NoPause struct{}

func (NoPause) Acknowledge() {}
