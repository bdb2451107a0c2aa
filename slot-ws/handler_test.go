package slotws

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"github.com/classmeet/video-slots/slot-ws/connectiondao"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

func newTestHandler(policy Policy) (*Handler, *harness) {
	h := newHarness(policy)
	handler := &Handler{
		Controller: h.controller,
		Logger:     zerolog.Nop(),
	}
	return handler, h
}

func wsRequest(route, connectionID string) events.APIGatewayWebsocketProxyRequest {
	return events.APIGatewayWebsocketProxyRequest{
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			RouteKey:     route,
			ConnectionID: connectionID,
			DomainName:   "example.execute-api.us-west-2.amazonaws.com",
			Stage:        "prod",
		},
	}
}

func TestHandleConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the connection", func(t *testing.T) {
		handler, h := newTestHandler(CapacityPolicy{Capacity: 2})

		req := wsRequest("$connect", "c1")
		req.QueryStringParameters = map[string]string{
			"meetingId":     "m1",
			"participantId": "alice",
			"role":          "participant",
		}

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		conn, err := h.directory.Get(ctx, "c1")
		assert.NoError(t, err)
		assert.NotNil(t, conn)
		assert.Equal(t, "m1", conn.MeetingID)
		assert.Equal(t, "alice", conn.ParticipantID)
		assert.Equal(t, connectiondao.RoleParticipant, conn.Role)
		assert.Equal(t, "https://example.execute-api.us-west-2.amazonaws.com/prod", conn.Endpoint)
		assert.Contains(t, h.sink.actions(), "connected")
	})

	t.Run("role defaults to participant when the policy allows", func(t *testing.T) {
		handler, h := newTestHandler(CapacityPolicy{Capacity: 2})

		req := wsRequest("$connect", "c1")
		req.QueryStringParameters = map[string]string{"meetingId": "m1", "participantId": "alice"}

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		conn, _ := h.directory.Get(ctx, "c1")
		assert.Equal(t, connectiondao.RoleParticipant, conn.Role)
	})

	t.Run("missing role is rejected when the policy requires one", func(t *testing.T) {
		handler, _ := newTestHandler(ModeratorPolicy{})

		req := wsRequest("$connect", "c1")
		req.QueryStringParameters = map[string]string{"meetingId": "m1", "participantId": "alice"}

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("missing identity is rejected", func(t *testing.T) {
		handler, _ := newTestHandler(CapacityPolicy{Capacity: 2})

		resp, err := handler.HandleEvent(ctx, wsRequest("$connect", "c1"))
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		handler, _ := newTestHandler(CapacityPolicy{Capacity: 2})

		req := wsRequest("$connect", "c1")
		req.QueryStringParameters = map[string]string{
			"meetingId":     "m1",
			"participantId": "alice",
			"role":          "superuser",
		}

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("signed token overrides client-asserted identity", func(t *testing.T) {
		handler, h := newTestHandler(CapacityPolicy{Capacity: 2})
		handler.Verifier = NewVerifier([]byte("test-signing-key"))

		token, err := handler.Verifier.Sign(ConnectClaims{
			MeetingID:     "m1",
			ParticipantID: "alice",
			Role:          connectiondao.RoleParticipant,
		})
		assert.NoError(t, err)

		req := wsRequest("$connect", "c1")
		req.QueryStringParameters = map[string]string{
			"meetingId":     "m1",
			"participantId": "alice",
			"role":          "moderator", // contradicts the token, must lose
			"token":         token,
		}

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		conn, _ := h.directory.Get(ctx, "c1")
		assert.Equal(t, connectiondao.RoleParticipant, conn.Role)
	})

	t.Run("bad token is rejected", func(t *testing.T) {
		handler, _ := newTestHandler(CapacityPolicy{Capacity: 2})
		handler.Verifier = NewVerifier([]byte("test-signing-key"))

		req := wsRequest("$connect", "c1")
		req.QueryStringParameters = map[string]string{"token": "garbage"}

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode)
	})
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("ping answers pong without touching state", func(t *testing.T) {
		handler, h := newTestHandler(CapacityPolicy{Capacity: 2})

		req := wsRequest("$default", "c-unknown")
		req.Body = `{"type":"ping"}`

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, []string{MsgPing}, h.notify.typesTo("c-unknown"))
		assert.Empty(t, h.sink.actions())
	})

	t.Run("start-video admits the sender", func(t *testing.T) {
		handler, h := newTestHandler(CapacityPolicy{Capacity: 2})
		a := h.connect("m1", "alice", connectiondao.RoleParticipant)

		req := wsRequest("$default", a.ConnectionID)
		req.Body = `{"type":"start-video"}`

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, slotdao.StateActive, h.ledger.state("m1", "alice"))
	})

	t.Run("message from unknown connection is dropped", func(t *testing.T) {
		handler, _ := newTestHandler(CapacityPolicy{Capacity: 2})

		req := wsRequest("$default", "c-unknown")
		req.Body = `{"type":"start-video"}`

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 410, resp.StatusCode)
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		handler, _ := newTestHandler(CapacityPolicy{Capacity: 2})

		req := wsRequest("$default", "c1")
		req.Body = `not json`

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("unknown message type is reported back", func(t *testing.T) {
		handler, h := newTestHandler(CapacityPolicy{Capacity: 2})
		a := h.connect("m1", "alice", connectiondao.RoleParticipant)

		req := wsRequest("$default", a.ConnectionID)
		req.Body = `{"type":"launch-missiles"}`

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		assert.Equal(t, []string{MsgError}, h.notify.typesTo(a.ConnectionID))
	})

	t.Run("toggle with a bad payload is reported back", func(t *testing.T) {
		handler, h := newTestHandler(ModeratorPolicy{})
		mod := h.connect("m1", "teacher", connectiondao.RoleModerator)

		req := wsRequest("$default", mod.ConnectionID)
		req.Body = `{"type":"toggle-student-video","payload":{}}`

		resp, err := handler.HandleEvent(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		assert.Equal(t, []string{MsgError}, h.notify.typesTo(mod.ConnectionID))
	})
}

func TestHandleDisconnectRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("cleans up an active sender", func(t *testing.T) {
		handler, h := newTestHandler(CapacityPolicy{Capacity: 2})
		a := h.connect("m1", "alice", connectiondao.RoleParticipant)
		assert.NoError(t, h.controller.StartVideo(ctx, a))

		resp, err := handler.HandleEvent(ctx, wsRequest("$disconnect", a.ConnectionID))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		conn, _ := h.directory.Get(ctx, a.ConnectionID)
		assert.Nil(t, conn)
		assert.Equal(t, "", h.ledger.state("m1", "alice"))
	})

	t.Run("disconnect for an unknown connection is a no-op", func(t *testing.T) {
		handler, _ := newTestHandler(CapacityPolicy{Capacity: 2})

		resp, err := handler.HandleEvent(ctx, wsRequest("$disconnect", "c-unknown"))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})
}

func TestUnknownRoute(t *testing.T) {
	handler, _ := newTestHandler(CapacityPolicy{Capacity: 2})

	resp, err := handler.HandleEvent(context.Background(), wsRequest("$warmup", "c1"))
	assert.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}
