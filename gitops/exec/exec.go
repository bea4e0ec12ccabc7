// Package exec provides shell command execution helpers
// with credential redaction for logged output.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// userinfoPattern matches the userinfo part of a URL
// (anything between "://" and "@"). Remote git URLs carry
// credentials there and must never reach the logs intact.
var userinfoPattern = regexp.MustCompile(`://[^/@\s]+@`)

// Redact masks URL userinfo occurrences in s so that
// tokens and passwords embedded in remote URLs never
// appear in logs or error messages.
func Redact(s string) string {
	return userinfoPattern.ReplaceAllString(s, "://***@")
}

// RedactAll applies Redact to every element of args and
// returns the result joined with spaces.
func RedactAll(args []string) string {
	redacted := make([]string, 0, len(args))
	for _, a := range args {
		redacted = append(redacted, Redact(a))
	}

	return strings.Join(redacted, " ")
}

// Ex executes the named command in the given directory and
// returns combined stdout+stderr output. Pass empty dir to
// use the current working directory. Logged command lines
// and wrapped errors have URL credentials redacted; the
// returned output string is raw.
func Ex(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error) {
	const errCtx = "executing command"

	slog.Info(
		"executing",
		"cmd", name,
		"args", RedactAll(arg),
		"dir", dir,
	)

	cmd := exec.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	by, err := cmd.CombinedOutput()

	slog.Info("output", "result", Redact(string(by)))

	if err != nil {
		return string(by), fmt.Errorf(
			"%s: %s %s: %w",
			errCtx, name, RedactAll(arg), err,
		)
	}

	return string(by), nil
}
