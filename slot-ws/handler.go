package slotws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	slotcli "github.com/classmeet/video-slots/slot-cli"
	slotevents "github.com/classmeet/video-slots/slot-events"
	"github.com/classmeet/video-slots/slot-ws/connectiondao"
)

// Handler handles WebSocket API Gateway events for the video slot protocol.
type Handler struct {
	Controller *Controller
	Logger     zerolog.Logger
	ConnTTL    time.Duration    // TTL for directory rows (default 24 hours)
	Verifier   *Verifier        // optional signed connect token verification
	Metrics    *slotcli.Metrics // optional
}

// HandleEvent routes an API Gateway WebSocket event to the appropriate
// handler. Each invocation is independent; events for the same meeting or
// participant may run concurrently and rely on the store's conditional
// writes for correctness.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := h.Logger.With().
		Str("connection_id", req.RequestContext.ConnectionID).
		Str("route", req.RequestContext.RouteKey).
		Logger()
	ctx = logger.WithContext(ctx)

	if h.Metrics != nil {
		defer h.Metrics.Timing(ctx, slotcli.ResponseTimeMetric, time.Now(), map[slotcli.DimensionName]string{
			slotcli.RouteDimension:  req.RequestContext.RouteKey,
			slotcli.PolicyDimension: h.Controller.Policy.Name(),
		})
	}

	switch req.RequestContext.RouteKey {
	case "$connect":
		return h.handleConnect(ctx, logger, req)
	case "$disconnect":
		return h.handleDisconnect(ctx, logger, req)
	case "$default":
		return h.handleMessage(ctx, logger, req)
	default:
		logger.Warn().Str("route", req.RequestContext.RouteKey).Msg("unknown route")
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}
}

func (h *Handler) handleConnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	var (
		meetingID     = req.QueryStringParameters["meetingId"]
		participantID = req.QueryStringParameters["participantId"]
		role          = req.QueryStringParameters["role"]
	)

	if h.Verifier != nil {
		claims, err := h.Verifier.Verify(req.QueryStringParameters["token"])
		if err != nil {
			logger.Warn().Err(err).Msg("rejecting connect with bad token")
			return events.APIGatewayProxyResponse{StatusCode: 401, Body: "invalid connect token"}, nil
		}
		// The signed claims are authoritative; client-asserted parameters
		// are ignored when they disagree.
		meetingID, participantID, role = claims.MeetingID, claims.ParticipantID, claims.Role
	}

	if meetingID == "" || participantID == "" {
		logger.Warn().Msg("rejecting connect with missing identity")
		return events.APIGatewayProxyResponse{StatusCode: 400, Body: "meetingId and participantId are required to connect"}, nil
	}
	switch role {
	case connectiondao.RoleModerator, connectiondao.RoleParticipant:
	case "":
		if h.Controller.Policy.RequireRole() {
			logger.Warn().Msg("rejecting connect with missing role")
			return events.APIGatewayProxyResponse{StatusCode: 400, Body: "role is required to connect"}, nil
		}
		role = connectiondao.RoleParticipant
	default:
		logger.Warn().Str("role", role).Msg("rejecting connect with unknown role")
		return events.APIGatewayProxyResponse{StatusCode: 400, Body: "unknown role"}, nil
	}

	ttl := h.ConnTTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	conn := connectiondao.Connection{
		ConnectionID:  req.RequestContext.ConnectionID,
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Role:          role,
		Endpoint:      endpoint(req),
		ConnectedAt:   time.Now().Unix(),
		TTL:           time.Now().Add(ttl).Unix(),
	}

	if err := h.Controller.Connections.Put(ctx, conn); err != nil {
		logger.Error().Err(err).Msg("failed to store connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	if h.Controller.Events != nil {
		h.Controller.Events.Emit(ctx, slotevents.Event{
			MeetingID:     meetingID,
			ParticipantID: participantID,
			ConnectionID:  conn.ConnectionID,
			Action:        slotevents.ActionConnected,
		})
	}

	logger.Info().Str("meeting_id", meetingID).Str("participant_id", participantID).Str("role", role).Msg("connection established")
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func (h *Handler) handleDisconnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	conn, err := h.Controller.Connections.Get(ctx, req.RequestContext.ConnectionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to look up disconnecting connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}
	if conn == nil {
		// Already cleaned up, or a replayed disconnect for a handle that was
		// superseded by a reconnect.
		logger.Info().Msg("disconnect for unknown connection, nothing to do")
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil
	}

	h.Controller.HandleDisconnect(ctx, *conn)

	logger.Info().Msg("connection closed")
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func (h *Handler) handleMessage(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	msg, err := ParseMessage(req.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid message")
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}

	// ping carries no identity and touches no state; answer it even when the
	// directory row is missing so keepalives survive cleanup races.
	if msg.Type == MsgPing {
		h.Controller.Notify.Post(ctx, connectiondao.Connection{
			ConnectionID: req.RequestContext.ConnectionID,
			Endpoint:     endpoint(req),
		}, PongMessage())
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil
	}

	conn, err := h.Controller.Connections.Get(ctx, req.RequestContext.ConnectionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to look up connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}
	if conn == nil {
		logger.Warn().Str("type", msg.Type).Msg("message from unknown connection, dropping")
		return events.APIGatewayProxyResponse{StatusCode: 410}, nil
	}

	logger = logger.With().
		Str("type", msg.Type).
		Str("meeting_id", conn.MeetingID).
		Str("participant_id", conn.ParticipantID).
		Logger()
	ctx = logger.WithContext(ctx)

	switch msg.Type {
	case MsgStartVideo:
		err = h.Controller.StartVideo(ctx, *conn)
	case MsgStopVideo:
		err = h.Controller.StopVideo(ctx, *conn)
	case MsgToggleStudentVideo:
		var payload TogglePayload
		if perr := json.Unmarshal(msg.Payload, &payload); perr != nil || payload.ParticipantID == "" {
			logger.Warn().Msg("invalid toggle payload")
			h.Controller.Notify.Post(ctx, *conn, ErrorMessage("invalid toggle-student-video payload"))
			return events.APIGatewayProxyResponse{StatusCode: 400}, nil
		}
		err = h.Controller.ToggleVideo(ctx, *conn, payload)
	case MsgListAvailableVideos:
		err = h.Controller.ListAvailable(ctx, *conn)
	default:
		logger.Warn().Msg("unknown message type")
		h.Controller.Notify.Post(ctx, *conn, ErrorMessage(fmt.Sprintf("unknown message type %v", msg.Type)))
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}

	if err != nil {
		// The ledger write failed; nothing was committed for this request.
		// Report back over the same connection so the client can retry.
		logger.Error().Err(err).Msg("failed to handle message")
		h.Controller.Notify.Post(ctx, *conn, ErrorMessage(fmt.Sprintf("failed to handle %v", msg.Type)))
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func endpoint(req events.APIGatewayWebsocketProxyRequest) string {
	return fmt.Sprintf("https://%s/%s", req.RequestContext.DomainName, req.RequestContext.Stage)
}
