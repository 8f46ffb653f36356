package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const bridgeTimeout = 10 * time.Second

// BridgeReply is the JSON object a vault bridge prints on stdout.
type BridgeReply struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
	Exists *bool  `json:"exists,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BridgeBackend talks to an external credential vault through a helper
// process invoked as `<command...> read|write|check`. The helper answers
// with a BridgeReply and a matching exit code; write takes the payload on stdin.
type BridgeBackend struct {
	Command []string
	Timeout time.Duration
}

func (b *BridgeBackend) vault() {}

func (b *BridgeBackend) String() string {
	return "vault bridge " + strings.Join(b.Command, " ")
}

// Read returns the token stored in the vault.
func (b *BridgeBackend) Read(ctx context.Context) ([]byte, error) {
	reply, err := b.run(ctx, "read", nil)
	if err != nil {
		return nil, err
	}
	if reply.Token == "" {
		return nil, errors.New("vault bridge read: empty token")
	}
	return []byte(reply.Token), nil
}

// Write stores data in the vault.
func (b *BridgeBackend) Write(ctx context.Context, data []byte) error {
	_, err := b.run(ctx, "write", data)
	return err
}

// Check reports whether the vault holds an entry.
func (b *BridgeBackend) Check(ctx context.Context) (bool, error) {
	reply, err := b.run(ctx, "check", nil)
	if err != nil {
		return false, err
	}
	return reply.Exists != nil && *reply.Exists, nil
}

func (b *BridgeBackend) run(ctx context.Context, action string, stdin []byte) (BridgeReply, error) {
	var reply BridgeReply
	if len(b.Command) == 0 {
		return reply, errors.New("vault bridge: no command configured")
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = bridgeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, b.Command[1:]...), action)
	cmd := exec.CommandContext(ctx, b.Command[0], args...) //nolint:gosec // command comes from local config
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return reply, fmt.Errorf("vault bridge %s: %w", action, ctx.Err())
	}

	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &reply); err != nil {
		if runErr != nil {
			return reply, fmt.Errorf("vault bridge %s: %w (%s)", action, runErr, strings.TrimSpace(stderr.String()))
		}
		return reply, fmt.Errorf("vault bridge %s: decoding reply: %w", action, err)
	}
	if reply.Status != "ok" || runErr != nil {
		msg := reply.Error
		if msg == "" {
			msg = "unknown error"
		}
		return reply, fmt.Errorf("vault bridge %s: %s", action, msg)
	}
	return reply, nil
}
