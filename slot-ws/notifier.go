package slotws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/rs/zerolog"

	"github.com/classmeet/video-slots/slot-ws/connectiondao"
)

// Notifier delivers messages over the API Gateway management API. Delivery
// is best effort: a connection that has gone away is expected and logged at
// info; anything else is logged at error. Post never fails its caller.
type Notifier struct {
	Logger zerolog.Logger

	// mgmtClients caches API Gateway Management API clients by endpoint
	mgmtMu      sync.RWMutex
	mgmtClients map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
}

// Post sends msg to conn's endpoint.
func (n *Notifier) Post(ctx context.Context, conn connectiondao.Connection, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		n.Logger.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal message")
		return
	}

	client := n.getManagementClient(conn.Endpoint)
	_, sendErr := client.PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(conn.ConnectionID),
		Data:         data,
	})
	if sendErr != nil {
		if isGoneException(sendErr) {
			n.Logger.Info().
				Str("connection_id", conn.ConnectionID).
				Str("type", msg.Type).
				Msg("skipping stale connection")
			return
		}
		n.Logger.Error().Err(sendErr).
			Str("connection_id", conn.ConnectionID).
			Str("type", msg.Type).
			Msg("failed to post to connection")
	}
}

func (n *Notifier) getManagementClient(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	n.mgmtMu.RLock()
	if client, ok := n.mgmtClients[endpoint]; ok {
		n.mgmtMu.RUnlock()
		return client
	}
	n.mgmtMu.RUnlock()

	n.mgmtMu.Lock()
	defer n.mgmtMu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := n.mgmtClients[endpoint]; ok {
		return client
	}

	if n.mgmtClients == nil {
		n.mgmtClients = make(map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI)
	}

	sess := session.Must(session.NewSession(aws.NewConfig().WithEndpoint(endpoint)))
	client := apigatewaymanagementapi.New(sess)
	n.mgmtClients[endpoint] = client
	return client
}

// isGoneException checks if the error is a GoneException (HTTP 410),
// indicating the WebSocket connection no longer exists.
func isGoneException(err error) bool {
	return strings.Contains(err.Error(), "GoneException") ||
		strings.Contains(err.Error(), "410")
}
