package testutil

import (
	"net/http"
)

// ActorHeader is the header the change handler reads the acting party from.
const ActorHeader = "X-Actor-ID"

// WithActor marks the request as issued by actorID, the way the upstream
// authentication layer would.
func WithActor(req *http.Request, actorID string) *http.Request {
	if actorID != "" {
		req.Header.Set(ActorHeader, actorID)
	}
	return req
}
