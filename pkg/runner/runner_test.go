package runner_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ntsmith7/peekaboo/pkg/runner"
)

func TestExecRunner_CapturesStdout(t *testing.T) {
	r := runner.NewExecRunner()

	out, err := r.Run(context.Background(), "echo", []string{"hello"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("expected stdout %q, got %q", "hello", string(out))
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := runner.NewExecRunner()

	_, err := r.Run(context.Background(), "definitely-not-a-real-binary-xyz", nil)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestExecRunner_ArgumentValidation(t *testing.T) {
	r := runner.NewExecRunner()
	ctx := context.Background()

	testCases := []struct {
		name        string
		args        []string
		expectError bool
		description string
	}{
		{
			name:        "plain arguments",
			args:        []string{"-d", "example.com", "-silent"},
			expectError: false,
			description: "Flag-style arguments pass validation",
		},
		{
			name:        "windows path argument",
			args:        []string{"C:\\temp\\wordlist.txt"},
			expectError: false,
			description: "Backslashes are not shell metacharacters",
		},
		{
			name:        "semicolon injection",
			args:        []string{"example.com; rm -rf /tmp"},
			expectError: true,
			description: "Command chaining must be rejected",
		},
		{
			name:        "pipe injection",
			args:        []string{"example.com | cat /etc/passwd"},
			expectError: true,
			description: "Pipes must be rejected",
		},
		{
			name:        "backtick injection",
			args:        []string{"`id`"},
			expectError: true,
			description: "Command substitution must be rejected",
		},
		{
			name:        "dollar expansion",
			args:        []string{"$HOME"},
			expectError: true,
			description: "Variable expansion must be rejected",
		},
		{
			name:        "redirect",
			args:        []string{"> /tmp/owned"},
			expectError: true,
			description: "Redirection must be rejected",
		},
		{
			name:        "path traversal",
			args:        []string{"../../etc/passwd"},
			expectError: true,
			description: "Traversal outside URLs must be rejected",
		},
		{
			name:        "traversal inside URL allowed",
			args:        []string{"https://example.com/a/../b"},
			expectError: false,
			description: "Dot segments are legitimate in URLs",
		},
		{
			name:        "empty argument allowed",
			args:        []string{""},
			expectError: false,
			description: "Empty arguments pass through",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Run(ctx, "echo", tc.args)
			if tc.expectError && err == nil {
				t.Errorf("%s: expected error, got nil", tc.description)
			}
			if !tc.expectError && err != nil {
				t.Errorf("%s: unexpected error: %v", tc.description, err)
			}
		})
	}
}

func TestExecRunner_RejectsUnsafeCommand(t *testing.T) {
	r := runner.NewExecRunner()

	testCases := []string{
		"",
		"echo;id",
		"echo id",
		"$(which echo)",
	}

	for _, command := range testCases {
		if _, err := r.Run(context.Background(), command, nil); err == nil {
			t.Errorf("command %q: expected validation error", command)
		}
	}
}

func TestExpandArgs(t *testing.T) {
	args := []string{"-d", "{{domain}}", "-o", "{{domain}}_out.json", "-silent"}

	expanded := runner.ExpandArgs(args, map[string]string{"domain": "example.com"})

	want := []string{"-d", "example.com", "-o", "example.com_out.json", "-silent"}
	for i := range want {
		if expanded[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], expanded[i])
		}
	}

	// Original slice untouched
	if args[1] != "{{domain}}" {
		t.Error("ExpandArgs mutated its input")
	}
}

func TestExpandArgsLeavesUnknownTokens(t *testing.T) {
	expanded := runner.ExpandArgs([]string{"-x", "{{mystery}}"}, map[string]string{"domain": "example.com"})

	if expanded[1] != "{{mystery}}" {
		t.Errorf("unknown token should survive, got %q", expanded[1])
	}
}
