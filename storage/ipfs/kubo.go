package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/e-e-e/dweb-transport/storage"
)

type kubo struct {
	bin string
	env []string
}

// cmdError carries the first stderr line of a failed ipfs command.
type cmdError struct {
	args   []string
	stderr string
	err    error
}

func (e *cmdError) Error() string {
	msg := e.stderr
	if msg == "" {
		msg = e.err.Error()
	}
	return fmt.Sprintf("ipfs %s: %s", strings.Join(e.args[:min(2, len(e.args))], " "), msg)
}

func (e *cmdError) Unwrap() error {
	if e.missing() {
		return storage.ErrNotFound
	}
	return e.err
}

func (e *cmdError) missing() bool {
	s := strings.ToLower(e.stderr)
	return strings.Contains(s, "not found") || strings.Contains(s, "could not find")
}

func (k kubo) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, k.bin, args...)
	cmd.Env = k.env
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	line, _, _ := strings.Cut(strings.TrimSpace(stderr.String()), "\n")
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		line = ""
	}
	return nil, &cmdError{args: args, stderr: strings.TrimPrefix(line, "Error: "), err: err}
}
