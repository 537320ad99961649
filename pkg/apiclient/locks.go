package apiclient

import (
	"context"

	"github.com/marmos91/dittolock/pkg/api/handlers"
	"github.com/marmos91/dittolock/pkg/lock"
)

// Status returns the lock manager summary.
func (c *Client) Status(ctx context.Context) (*handlers.StatusResponse, error) {
	var resp handlers.StatusResponse
	if err := c.get(ctx, "/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListLocks returns every lock the node has local state for.
func (c *Client) ListLocks(ctx context.Context) ([]lock.LockInfo, error) {
	var locks []lock.LockInfo
	if err := c.get(ctx, "/api/v1/locks", &locks); err != nil {
		return nil, err
	}
	return locks, nil
}

func (c *Client) GetLock(ctx context.Context, id string) (*lock.LockInfo, error) {
	var info lock.LockInfo
	if err := c.get(ctx, lockPath(id), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RecallLock asks the node to hand a greedy grant back to the server. It
// returns once the recall is started, not when it completes.
func (c *Client) RecallLock(ctx context.Context, id string) error {
	return c.post(ctx, lockPath(id, "/recall"), nil, nil)
}

// RunGC runs one sweep and returns the number of locks collected.
func (c *Client) RunGC(ctx context.Context) (int, error) {
	var resp struct {
		Collected int `json:"collected"`
	}
	if err := c.post(ctx, "/api/v1/gc", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Collected, nil
}

// Ready returns nil when the node's lock manager is running.
func (c *Client) Ready(ctx context.Context) error {
	return c.get(ctx, "/health/ready", nil)
}
