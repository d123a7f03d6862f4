package agent

import (
	"context"
	"encoding/json"

	"github.com/cuemby/concord/pkg/membership"
)

// bgCtx is used for the archive health check and other tick-scoped calls
// that have no natural caller-supplied context (the agent's own run loop is
// driven by polling, not by an inbound request).
var bgCtx = context.Background()

func encodeMembers(m *membership.Set) (json.RawMessage, error) {
	return json.Marshal(m.Encode())
}
