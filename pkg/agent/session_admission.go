package agent

import (
	"encoding/json"

	"github.com/cuemby/concord/pkg/logstream"
	"github.com/cuemby/concord/pkg/session"
	"github.com/cuemby/concord/pkg/types"
)

const ingressDrainLimit = 256

// pollIngressAsLeader drains the inbox and runs full session admission
// (§4.2/§6): connect requests enter the authenticator pipeline, messages are
// appended to the log, close requests are appended then committed through
// the registry, and admin queries are answered synchronously.
func (a *Agent) pollIngressAsLeader() int {
	work := 0
	for _, ev := range a.inbox.drain(ingressDrainLimit) {
		switch ev.Kind {
		case IngressSessionConnect:
			a.admitSession(ev)
		case IngressChallengeResponse:
			a.sessions.OnChallengeResponse(ev.SessionID, ev.ChallengeOK)
		case IngressSessionKeepAlive:
			a.sessions.Touch(ev.SessionID, nowNs())
		case IngressMessage:
			a.appendSessionMessage(ev)
		case IngressSessionClose:
			a.closeSessionByRequest(ev)
		case IngressAdminRequest:
			a.answerAdmin(ev)
		}
		work++
	}
	return work
}

// pollIngressAsFollower drains the inbox but only ever replies
// REDIRECT/REJECTED: a follower never admits a session or appends a command
// itself (§4.1's "poll ingress (only to reject/redirect)").
func (a *Agent) pollIngressAsFollower() int {
	work := 0
	for _, ev := range a.inbox.drain(ingressDrainLimit) {
		switch ev.Kind {
		case IngressSessionConnect:
			a.sessions.EnqueueRedirect(&types.ClusterSession{
				CorrelationID:    ev.CorrelationID,
				ResponseStreamID: ev.ResponseStreamID,
				ResponseChannel:  ev.ResponseChannel,
			})
		case IngressAdminRequest:
			a.answerAdmin(ev)
		}
		work++
	}
	return work
}

func (a *Agent) admitSession(ev IngressEvent) {
	result, _, reason := a.sessions.OnSessionConnect(
		ev.CorrelationID, ev.ResponseStreamID, ev.VersionMajor, a.cfg.ClusterMajor, ev.ResponseChannel, true,
	)
	switch result {
	case session.ConnectRejected:
		a.log.Debug().Int64("correlation_id", ev.CorrelationID).Int("reason", int(reason)).
			Msg("reply REJECTED to connect request")
	case session.ConnectPending:
		// left in the registry's pending queue; processPendingSessions drives
		// it through CHALLENGED -> AUTHENTICATED -> OPEN on the slow tick.
	case session.ConnectRedirect:
		// unreachable: isLeader is always true in this call.
	}
}

func (a *Agent) appendSessionMessage(ev IngressEvent) {
	if _, ok := a.sessions.Get(ev.SessionID); !ok {
		return
	}
	pos, err := a.logPub.AppendSessionMessage(logstream.SessionMessageBody{
		SessionID: ev.SessionID,
		Payload:   ev.Payload,
	})
	if err != nil || pos == 0 {
		return
	}
	a.appendPosition = pos
	a.sessions.Touch(ev.SessionID, nowNs())
}

func (a *Agent) closeSessionByRequest(ev IngressEvent) {
	if _, ok := a.sessions.Get(ev.SessionID); !ok {
		return
	}
	pos, err := a.logPub.AppendSessionClose(logstream.SessionCloseBody{
		SessionID: ev.SessionID,
		Reason:    "CLIENT_ACTION",
	})
	if err != nil || pos == 0 {
		return
	}
	a.appendPosition = pos
	closed := a.sessions.Close(ev.SessionID, pos, types.CloseClientAction)
	if closed != nil {
		a.uncommitted.PushSessionClose(closed)
	}
}

func (a *Agent) answerAdmin(ev IngressEvent) {
	if ev.ReplyTo == nil {
		return
	}
	var resp AdminResponse
	switch ev.AdminKind {
	case AdminClusterMembersQuery:
		encoded, err := encodeMembers(a.members)
		if err == nil {
			resp.MembersJSON = encoded
		} else {
			resp.MembersJSON = json.RawMessage("[]")
		}
	case AdminBackupQuery:
		resp.Accepted = a.role == RoleLeader
	}
	select {
	case ev.ReplyTo <- resp:
	default:
	}
}
