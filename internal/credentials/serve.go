package credentials

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/zalando/go-keyring"
)

const maxTokenSize = 64 << 10 // 64 KB

// ServeBridge answers one vault bridge request against b, making any Backend
// usable as the helper side of BridgeBackend. stdin is read only for write.
// A reply whose Status is not "ok" must be reported with a non-zero exit.
func ServeBridge(ctx context.Context, b Backend, action string, stdin io.Reader) BridgeReply {
	switch action {
	case "read":
		data, err := b.Read(ctx)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return bridgeError("Entry not found in vault")
			}
			return bridgeError(err.Error())
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return bridgeError("Entry not found in vault")
		}
		return BridgeReply{Status: "ok", Token: token}

	case "write":
		data, err := io.ReadAll(io.LimitReader(stdin, maxTokenSize))
		if err != nil {
			return bridgeError("reading stdin: " + err.Error())
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return bridgeError("No token provided on stdin")
		}
		if err := b.Write(ctx, []byte(token)); err != nil {
			return bridgeError(err.Error())
		}
		return BridgeReply{Status: "ok"}

	case "check":
		// An unreachable vault reads as an empty one.
		exists, err := b.Check(ctx)
		exists = exists && err == nil
		return BridgeReply{Status: "ok", Exists: &exists}

	default:
		return bridgeError("Unknown action: " + action)
	}
}

func bridgeError(msg string) BridgeReply {
	return BridgeReply{Status: "error", Error: msg}
}
