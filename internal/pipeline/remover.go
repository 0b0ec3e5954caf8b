package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	inputPlaceholder  = "{input}"
	outputPlaceholder = "{output}"
)

// BackgroundRemover strips the background of an image and returns PNG bytes.
type BackgroundRemover interface {
	Remove(ctx context.Context, src []byte) ([]byte, error)
}

// CommandRemover runs an external segmentation tool such as rembg. Args may
// reference {input} and {output}; without {output} the tool's stdout is
// taken as the result.
type CommandRemover struct {
	command string
	args    []string
	timeout time.Duration
}

func NewCommandRemover(command string, args []string, timeout time.Duration) *CommandRemover {
	if len(args) == 0 {
		args = []string{"i", inputPlaceholder, outputPlaceholder}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CommandRemover{command: command, args: args, timeout: timeout}
}

func (r *CommandRemover) Remove(ctx context.Context, src []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "sticker-remover-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input")
	outPath := filepath.Join(dir, "output.png")
	if err := os.WriteFile(inPath, src, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write remover input: %w", err)
	}

	useStdout := true
	args := make([]string, len(r.args))
	for i, a := range r.args {
		if strings.Contains(a, outputPlaceholder) {
			useStdout = false
		}
		a = strings.ReplaceAll(a, inputPlaceholder, inPath)
		args[i] = strings.ReplaceAll(a, outputPlaceholder, outPath)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrRemoverTimeout, r.timeout)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", r.command, err, strings.TrimSpace(stderr.String()))
	}

	var out []byte
	if useStdout {
		out = stdout.Bytes()
	} else {
		out, err = os.ReadFile(outPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read remover output: %w", err)
		}
	}

	if len(out) == 0 {
		return nil, ErrEmptyOutput
	}
	return out, nil
}
