// Package transcode drives ffmpeg and ffprobe as opaque subprocesses.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

// Runner executes one tool invocation and returns its combined output.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	binary string
}

// NewExecRunner runs binary through os/exec.
func NewExecRunner(binary string) Runner {
	return execRunner{binary: strings.TrimSpace(binary)}
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

// corruptMarkers are ffmpeg diagnostics that retrying cannot fix.
var corruptMarkers = []string{
	"invalid data found when processing input",
	"moov atom not found",
	"no such file or directory",
	"does not contain any stream",
	"output file #0 does not contain any stream",
}

// classify turns a failed invocation into a typed error. Deadline overruns
// are transient, known corruption markers are irrecoverable and anything
// else is internal so the executor retries it a bounded number of times.
func classify(ctx context.Context, op string, output []byte, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return pkgerrors.Wrap(pkgerrors.CodeTransient, ctxErr, op+" timed out")
		}
		return ctxErr
	}
	msg := strings.TrimSpace(string(output))
	lower := strings.ToLower(msg)
	for _, marker := range corruptMarkers {
		if strings.Contains(lower, marker) {
			return pkgerrors.Wrap(pkgerrors.CodeIrrecoverable, err, fmt.Sprintf("%s: %s", op, lastLine(msg)))
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("%s: %s", op, lastLine(msg)))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
