package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/klejdi94/xsim/core"
)

// CommandEncoder runs an external embedding program as
// "<Path> <Args...> <inPath> <outPath>".
type CommandEncoder struct {
	Path string
	Args []string
	// Env is appended to the current environment.
	Env []string
}

// NewCommandEncoder parses a command line such as "python embed.py --fp16".
func NewCommandEncoder(commandLine string) (*CommandEncoder, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, &core.ValidationError{Field: "encoder.command", Value: commandLine, Message: "must not be empty"}
	}
	return &CommandEncoder{Path: fields[0], Args: fields[1:]}, nil
}

// Encode implements Encoder.
func (c *CommandEncoder) Encode(ctx context.Context, inPath, outPath string) error {
	args := append(append([]string(nil), c.Args...), inPath, outPath)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Env = append(os.Environ(), c.Env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("encoder: %s %s: %v: %s: %w", c.Path, inPath, err, msg, core.ErrEncodingFailure)
	}
	return nil
}

var _ Encoder = (*CommandEncoder)(nil)
