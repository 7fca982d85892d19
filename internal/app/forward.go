package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbright/murmur/internal/ipc"
)

// forwardTimeout covers a full stop, which drains and finalizes before replying.
const forwardTimeout = 30 * time.Second

// tryForward sends command to a running owner. handled is false when no
// owner is listening, in which case the caller may become the owner.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	timeout := forwardTimeout
	if command == ipc.CommandStatus {
		timeout = 220 * time.Millisecond
	}

	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, timeout)
	if err != nil {
		if ipc.IsNoOwner(err) {
			return ipc.Response{}, false, nil
		}
		return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
	}
	if !resp.OK {
		return resp, true, errors.New(resp.Error)
	}
	return resp, true, nil
}
