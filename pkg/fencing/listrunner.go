package fencing

import (
	"context"

	"github.com/nodequorum/controld/pkg/types"
)

// agentListRunner adapts AgentProcess to the ListRunner interface used by
// the dynamic-list and status host-check modes.
type agentListRunner struct {
	proc AgentProcess
}

func (r agentListRunner) RunList(ctx context.Context, dev *types.Device) (string, error) {
	_, output, err := r.proc.Run(ctx, dev.Agent, "list", dev.Params)
	return output, err
}

func (r agentListRunner) RunStatus(ctx context.Context, dev *types.Device, target string) (int, error) {
	params := make(map[string]string, len(dev.Params)+1)
	for k, v := range dev.Params {
		params[k] = v
	}
	params["port"] = target
	rc, _, err := r.proc.Run(ctx, dev.Agent, "status", params)
	return rc, err
}
