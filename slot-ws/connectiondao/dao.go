package connectiondao

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the connection directory table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new connection directory DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Connection{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a connection record, overwriting any prior row for the same
// connection ID.
func (d *DAO) Put(ctx context.Context, conn Connection) error {
	return d.table.Put(conn).RunWithContext(ctx)
}

// Get retrieves a connection record by ID. Returns nil if not found; a
// missing directory row is authoritative proof of disconnection.
func (d *DAO) Get(ctx context.Context, connectionID string) (*Connection, error) {
	var conn Connection
	if err := d.table.Get(connectionID).ScanWithContext(ctx, &conn); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection %v: %w", connectionID, err)
	}
	return &conn, nil
}

// Delete removes a connection record by ID; deleting an absent row is a no-op.
func (d *DAO) Delete(ctx context.Context, connectionID string) error {
	return d.table.Delete(connectionID).RunWithContext(ctx)
}

// FindModerator returns the moderator connection for a meeting, or nil if no
// moderator is currently connected. By convention a meeting has at most one.
func (d *DAO) FindModerator(ctx context.Context, meetingID string) (*Connection, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String("MeetingIndex"),
		KeyConditionExpression: aws.String("meeting_id = :meeting_id"),
		FilterExpression:       aws.String("#role = :role"),
		ExpressionAttributeNames: map[string]*string{
			"#role": aws.String("role"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":meeting_id": {S: aws.String(meetingID)},
			":role":       {S: aws.String(RoleModerator)},
		},
	}

	output, err := d.api.QueryWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to find moderator for meeting %v: %w", meetingID, err)
	}
	return first(output.Items)
}

// FindParticipant returns a participant's current connection in a meeting, or
// nil if the participant is not connected. If multiple rows exist (a stale
// row awaiting its disconnect), the most recently connected wins.
func (d *DAO) FindParticipant(ctx context.Context, meetingID, participantID string) (*Connection, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String("MeetingIndex"),
		KeyConditionExpression: aws.String("meeting_id = :meeting_id"),
		FilterExpression:       aws.String("participant_id = :participant_id"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":meeting_id":     {S: aws.String(meetingID)},
			":participant_id": {S: aws.String(participantID)},
		},
	}

	output, err := d.api.QueryWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to find participant %v in meeting %v: %w", participantID, meetingID, err)
	}

	var conns []Connection
	if err := dynamodbattribute.UnmarshalListOfMaps(output.Items, &conns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
	}

	var latest *Connection
	for i := range conns {
		if latest == nil || conns[i].ConnectedAt > latest.ConnectedAt {
			latest = &conns[i]
		}
	}
	return latest, nil
}

// ExpiredBefore scans for connection rows whose TTL passed before cutoff.
// Used by the reaper as a backstop when DynamoDB's native expiry lags or a
// disconnect signal was lost.
func (d *DAO) ExpiredBefore(ctx context.Context, cutoff int64) ([]Connection, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("attribute_exists(#ttl) AND #ttl < :cutoff"),
		ExpressionAttributeNames: map[string]*string{
			"#ttl": aws.String("ttl"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":cutoff": {N: aws.String(strconv.FormatInt(cutoff, 10))},
		},
	}

	var expired []Connection
	err := d.api.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		var conns []Connection
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &conns); err == nil {
			expired = append(expired, conns...)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired connections: %w", err)
	}
	return expired, nil
}

func first(items []map[string]*dynamodb.AttributeValue) (*Connection, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var conn Connection
	if err := dynamodbattribute.UnmarshalMap(items[0], &conn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection: %w", err)
	}
	return &conn, nil
}
