// Package runner executes external scanner binaries with argument
// sanitization and captured output.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/pkg/logger"
)

var safeCommandPath = regexp.MustCompile(`^[a-zA-Z0-9_\-./]+$`)

// CommandRunner executes a binary and returns its captured stdout.
type CommandRunner interface {
	Run(ctx context.Context, command string, args []string) ([]byte, error)
}

// ExecRunner is the os/exec-backed CommandRunner. Stdout is captured and
// returned; stderr is logged and folded into the error on failure.
type ExecRunner struct {
	logger *logger.Logger
}

// NewExecRunner creates a new ExecRunner instance
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		logger: logger.NewLogger(logrus.InfoLevel),
	}
}

// Run validates the command and its arguments, then executes it under ctx.
func (r *ExecRunner) Run(ctx context.Context, command string, args []string) ([]byte, error) {
	if err := r.validateCommand(command); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	for i, arg := range args {
		if err := validateArgument(arg); err != nil {
			return nil, fmt.Errorf("invalid argument at index %d (%s): %w", i, arg, err)
		}
	}

	r.logger.WithFields(logger.Fields{
		"command": command,
		"args":    args,
	}).Debug("Executing command")

	cmd := exec.CommandContext(ctx, command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// A killed process is the context's doing; report the real cause
		// and hand back whatever stdout was produced before the kill.
		if ctx.Err() != nil {
			return stdout.Bytes(), ctx.Err()
		}

		if stderr.Len() > 0 {
			r.logger.WithFields(logger.Fields{
				"command": command,
				"stderr":  strings.TrimSpace(stderr.String()),
			}).Error("Command stderr output")
		}

		errorMsg := fmt.Sprintf("execution failed: %v", err)
		if stderr.Len() > 0 {
			errorMsg = fmt.Sprintf("%s\nstderr: %s", errorMsg, strings.TrimSpace(stderr.String()))
		}

		return stdout.Bytes(), fmt.Errorf("%s", errorMsg)
	}

	return stdout.Bytes(), nil
}

// validateCommand validates that a command is safe to execute
func (r *ExecRunner) validateCommand(command string) error {
	if command == "" {
		return fmt.Errorf("command is empty")
	}

	if !safeCommandPath.MatchString(command) {
		return fmt.Errorf("unsafe characters in command: %s", command)
	}

	// Explicit paths must exist and must not be symlinks
	if strings.Contains(command, "/") {
		if _, err := os.Stat(command); err != nil {
			return fmt.Errorf("command file does not exist: %w", err)
		}

		fi, err := os.Lstat(command)
		if err != nil {
			return fmt.Errorf("cannot stat command: %w", err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("command is a symlink: %s", command)
		}

		return nil
	}

	// Bare names must resolve on PATH
	if _, err := exec.LookPath(command); err != nil {
		return fmt.Errorf("command not found on PATH: %w", err)
	}

	return nil
}

// validateArgument validates that a command argument is safe
func validateArgument(arg string) error {
	if arg == "" {
		return nil // Empty arguments are allowed
	}

	// Check for shell metacharacters that could enable command injection
	dangerous := []string{";", "&", "|", "`", "$", "(", ")", "\n", "\r", "<", ">"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("argument contains dangerous character: %s", char)
		}
	}

	// Check for path traversal
	if strings.Contains(arg, "..") {
		// Allow .. in URLs but not in file paths
		if !strings.Contains(arg, "://") {
			return fmt.Errorf("path traversal detected in argument")
		}
	}

	return nil
}

// ExpandArgs substitutes {{key}} tokens in args from vars. Unknown tokens
// are left untouched so misconfigured flags surface in the executed
// command rather than vanishing silently.
func ExpandArgs(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	copy(out, args)
	if len(vars) == 0 {
		return out
	}

	for i, arg := range out {
		for key, value := range vars {
			arg = strings.ReplaceAll(arg, "{{"+key+"}}", value)
		}
		out[i] = arg
	}
	return out
}
