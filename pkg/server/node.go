package server

import (
	"encoding/json"

	"github.com/cloudbro-kube-ai/k13d/pkg/log"
	"github.com/cloudbro-kube-ai/k13d/pkg/protocol"
)

func (g *Gateway) registerPendingNodeCall(reqID string) <-chan nodeCallResult {
	ch := make(chan nodeCallResult, 1)
	g.nodeMu.Lock()
	g.nodeCall[reqID] = ch
	g.nodeMu.Unlock()
	return ch
}

func (g *Gateway) cancelPendingNodeCall(reqID string) {
	g.nodeMu.Lock()
	delete(g.nodeCall, reqID)
	g.nodeMu.Unlock()
}

// resolveNodeCall completes a pending invokeNode wait when the node
// connection's res frame for reqID arrives, called from dispatch.
func (g *Gateway) resolveNodeCall(reqID string, payload json.RawMessage, errPayload *protocol.ErrorPayload) {
	g.nodeMu.Lock()
	ch, ok := g.nodeCall[reqID]
	delete(g.nodeCall, reqID)
	g.nodeMu.Unlock()
	if !ok {
		return
	}

	if errPayload != nil {
		ch <- nodeCallResult{exitCode: -1, err: protocol.NewErr(errPayload.Code, errPayload.Message)}
		return
	}

	var result struct {
		ExitCode int    `json:"exitCode"`
		Output   string `json:"output"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		log.Warnf("server: decoding node.invoke reply: %v", err)
		ch <- nodeCallResult{exitCode: -1, err: err}
		return
	}
	ch <- nodeCallResult{exitCode: result.ExitCode, output: []byte(result.Output)}
}

func nodeInvokeFrame(reqID, command, cwd string, env map[string]string) *protocol.Frame {
	f, _ := protocol.NewRequest(reqID, protocol.MethodNodeInvoke, map[string]any{
		"command": "system.run",
		"args": map[string]any{
			"command": command,
			"cwd":     cwd,
			"env":     env,
		},
	})
	return f
}
