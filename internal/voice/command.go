package voice

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandCapturer runs an external recognizer and reads the transcript from
// its standard output.
type CommandCapturer struct {
	name string
	args []string
}

func NewCommandCapturer(command string) (*CommandCapturer, error) {
	name, args, err := splitCommand(command)
	if err != nil {
		return nil, err
	}
	return &CommandCapturer{name: name, args: args}, nil
}

func (c *CommandCapturer) Capture(ctx context.Context) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run capture command %s: %w: %s", c.name, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommandSpeaker pipes each utterance to an external text-to-speech command.
type CommandSpeaker struct {
	name string
	args []string
}

func NewCommandSpeaker(command string) (*CommandSpeaker, error) {
	name, args, err := splitCommand(command)
	if err != nil {
		return nil, err
	}
	return &CommandSpeaker{name: name, args: args}, nil
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.name, s.args...)
	cmd.Stdin = strings.NewReader(text + "\n")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run speak command %s: %w: %s", s.name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func splitCommand(command string) (string, []string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, ErrUnavailable
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, fields[0], err)
	}
	return fields[0], fields[1:], nil
}
