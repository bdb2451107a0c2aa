package slotdao

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/rs/zerolog"
	"github.com/savaki/ddb"
)

var (
	// ErrCapacityFull indicates the meeting already has the maximum number
	// of active senders.
	ErrCapacityFull = errors.New("meeting video capacity is full")
	// ErrAlreadyExists indicates a slot record already exists for the
	// participant; callers treat this as a replayed request.
	ErrAlreadyExists = errors.New("slot record already exists")
	// ErrNotPending indicates a promotion target was not in the pending
	// state; callers treat this as a replayed promotion.
	ErrNotPending = errors.New("slot record is not pending")
	// ErrNotActive indicates a demotion target was not in the active state.
	ErrNotActive = errors.New("slot record is not active")
)

// DAO provides access to the slot ledger table. All state transitions are
// conditional single-row or paired-row writes so that concurrent events for
// the same meeting cannot over-admit past capacity; the occupancy sentinel
// row is the atomic check-and-set point.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new slot ledger DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, SlotRecord{}),
		api:       api,
		tableName: tableName,
	}
}

// Get retrieves a participant's slot record. Returns nil if the participant
// is idle.
func (d *DAO) Get(ctx context.Context, meetingID, participantID string) (*SlotRecord, error) {
	var rec SlotRecord
	get := d.table.Get(meetingID).Range(participantID).ConsistentRead(true)
	if err := get.ScanWithContext(ctx, &rec); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get slot for %v in meeting %v: %w", participantID, meetingID, err)
	}
	return &rec, nil
}

// ListByMeeting returns all slot records for a meeting, oldest grant first.
// The occupancy sentinel row is excluded.
func (d *DAO) ListByMeeting(ctx context.Context, meetingID string) ([]SlotRecord, error) {
	var all []SlotRecord
	err := d.table.Query("#MeetingID = ?", meetingID).
		FindAllWithContext(ctx, &all)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots for meeting %v: %w", meetingID, err)
	}

	records := all[:0]
	for _, rec := range all {
		if rec.ParticipantID == OccupancyKey {
			continue
		}
		records = append(records, rec)
	}
	sortByGrantedAt(records)
	return records, nil
}

// Occupancy returns the number of active records for a meeting as tracked by
// the sentinel row.
func (d *DAO) Occupancy(ctx context.Context, meetingID string) (int64, error) {
	var rec SlotRecord
	get := d.table.Get(meetingID).Range(OccupancyKey).ConsistentRead(true)
	if err := get.ScanWithContext(ctx, &rec); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get occupancy for meeting %v: %w", meetingID, err)
	}
	return rec.ActiveCount, nil
}

// Grant transitions a participant from idle to active. The write is applied
// only if no record exists for the participant and, when capacity > 0, the
// meeting's active count is below capacity. Returns ErrAlreadyExists on
// replay and ErrCapacityFull when the meeting is full. Moderator records
// never touch the occupancy counter; their video does not consume a
// participant slot.
func (d *DAO) Grant(ctx context.Context, rec SlotRecord, capacity int) error {
	rec.State = StateActive
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal slot record: %w", err)
	}

	if rec.IsModerator() {
		_, err = d.api.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(d.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(meeting_id)"),
		})
		if err != nil {
			if isConditionalCheckFailed(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to grant slot to %v in meeting %v: %w", rec.ParticipantID, rec.MeetingID, err)
		}
		return nil
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{
				Put: &dynamodb.Put{
					TableName:           aws.String(d.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(meeting_id)"),
				},
			},
			d.claimSlot(rec.MeetingID, capacity),
		},
	}

	if _, err := d.api.TransactWriteItemsWithContext(ctx, input); err != nil {
		switch cancellationReason(err) {
		case 0:
			return ErrAlreadyExists
		case 1:
			return ErrCapacityFull
		}
		return fmt.Errorf("failed to grant slot to %v in meeting %v: %w", rec.ParticipantID, rec.MeetingID, err)
	}
	return nil
}

// Pend transitions a participant from idle to pending. No capacity is
// consumed. Returns ErrAlreadyExists if a record (active or pending) exists.
func (d *DAO) Pend(ctx context.Context, rec SlotRecord) error {
	rec.State = StatePending
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal slot record: %w", err)
	}

	_, err = d.api.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(meeting_id)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to enqueue %v in meeting %v: %w", rec.ParticipantID, rec.MeetingID, err)
	}
	return nil
}

// Promote transitions a participant from pending to active, consuming
// capacity under the same conditions as Grant. Promoting a record that is no
// longer pending returns ErrNotPending, which callers treat as a replay.
func (d *DAO) Promote(ctx context.Context, meetingID, participantID, connectionID string, grantedAt int64, capacity int) error {
	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{
				Update: &dynamodb.Update{
					TableName:           aws.String(d.tableName),
					Key:                 slotKey(meetingID, participantID),
					ConditionExpression: aws.String("#state = :pending"),
					UpdateExpression:    aws.String("SET #state = :active, granted_at = :granted_at, connection_id = :connection_id"),
					ExpressionAttributeNames: map[string]*string{
						"#state": aws.String("state"),
					},
					ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
						":pending":       {S: aws.String(StatePending)},
						":active":        {S: aws.String(StateActive)},
						":granted_at":    {N: aws.String(strconv.FormatInt(grantedAt, 10))},
						":connection_id": {S: aws.String(connectionID)},
					},
				},
			},
			d.claimSlot(meetingID, capacity),
		},
	}

	if _, err := d.api.TransactWriteItemsWithContext(ctx, input); err != nil {
		switch cancellationReason(err) {
		case 0:
			return ErrNotPending
		case 1:
			return ErrCapacityFull
		}
		return fmt.Errorf("failed to promote %v in meeting %v: %w", participantID, meetingID, err)
	}
	return nil
}

// Demote transitions a participant from active to pending, releasing the
// capacity it held. Used when eviction re-queues the evicted sender.
func (d *DAO) Demote(ctx context.Context, meetingID, participantID string, queuedAt int64) error {
	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{
				Update: &dynamodb.Update{
					TableName:           aws.String(d.tableName),
					Key:                 slotKey(meetingID, participantID),
					ConditionExpression: aws.String("#state = :active"),
					UpdateExpression:    aws.String("SET #state = :pending, granted_at = :queued_at"),
					ExpressionAttributeNames: map[string]*string{
						"#state": aws.String("state"),
					},
					ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
						":active":    {S: aws.String(StateActive)},
						":pending":   {S: aws.String(StatePending)},
						":queued_at": {N: aws.String(strconv.FormatInt(queuedAt, 10))},
					},
				},
			},
			d.releaseSlot(meetingID),
		},
	}

	if _, err := d.api.TransactWriteItemsWithContext(ctx, input); err != nil {
		if cancellationReason(err) == 0 {
			return ErrNotActive
		}
		return fmt.Errorf("failed to demote %v in meeting %v: %w", participantID, meetingID, err)
	}
	return nil
}

// Release deletes a participant's slot record, releasing capacity if the
// record was active. Returns the state the record held, or the empty string
// if no record existed (or another event already removed it); either way the
// ledger afterwards reflects an idle participant.
func (d *DAO) Release(ctx context.Context, meetingID, participantID string) (string, error) {
	rec, err := d.Get(ctx, meetingID, participantID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}

	switch rec.State {
	case StateActive:
		return d.releaseActive(ctx, meetingID, participantID, rec.IsModerator())
	default:
		return d.releasePending(ctx, meetingID, participantID)
	}
}

func (d *DAO) releaseActive(ctx context.Context, meetingID, participantID string, moderator bool) (string, error) {
	// Moderator records hold no occupancy, so there is no counter to pair
	// the delete with.
	if moderator {
		_, err := d.api.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(d.tableName),
			Key:                 slotKey(meetingID, participantID),
			ConditionExpression: aws.String("#state = :active"),
			ExpressionAttributeNames: map[string]*string{
				"#state": aws.String("state"),
			},
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":active": {S: aws.String(StateActive)},
			},
		})
		if err != nil {
			if isConditionalCheckFailed(err) {
				return "", nil
			}
			return "", fmt.Errorf("failed to release slot for %v in meeting %v: %w", participantID, meetingID, err)
		}
		return StateActive, nil
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{
				Delete: &dynamodb.Delete{
					TableName:           aws.String(d.tableName),
					Key:                 slotKey(meetingID, participantID),
					ConditionExpression: aws.String("#state = :active"),
					ExpressionAttributeNames: map[string]*string{
						"#state": aws.String("state"),
					},
					ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
						":active": {S: aws.String(StateActive)},
					},
				},
			},
			d.releaseSlot(meetingID),
		},
	}

	if _, err := d.api.TransactWriteItemsWithContext(ctx, input); err != nil {
		switch cancellationReason(err) {
		case 0:
			// Raced with another release for the same row; cleanup already
			// happened elsewhere.
			return "", nil
		case 1:
			// Counter drift. The row is still the source of truth, so delete
			// it anyway; the reaper reconciles the counter.
			zerolog.Ctx(ctx).Warn().
				Str("meeting_id", meetingID).
				Str("participant_id", participantID).
				Msg("occupancy counter out of sync, releasing without decrement")
			if _, derr := d.api.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(d.tableName),
				Key:       slotKey(meetingID, participantID),
			}); derr != nil {
				return "", fmt.Errorf("failed to release slot for %v in meeting %v: %w", participantID, meetingID, derr)
			}
			return StateActive, nil
		}
		return "", fmt.Errorf("failed to release slot for %v in meeting %v: %w", participantID, meetingID, err)
	}
	return StateActive, nil
}

func (d *DAO) releasePending(ctx context.Context, meetingID, participantID string) (string, error) {
	_, err := d.api.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 slotKey(meetingID, participantID),
		ConditionExpression: aws.String("#state = :pending"),
		ExpressionAttributeNames: map[string]*string{
			"#state": aws.String("state"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":pending": {S: aws.String(StatePending)},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to release pending slot for %v in meeting %v: %w", participantID, meetingID, err)
	}
	return StatePending, nil
}

// Delete removes a slot record unconditionally, without touching the
// occupancy counter. Callers are expected to reconcile via PutCounter;
// normal state transitions use Release instead.
func (d *DAO) Delete(ctx context.Context, meetingID, participantID string) error {
	_, err := d.api.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       slotKey(meetingID, participantID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete slot for %v in meeting %v: %w", participantID, meetingID, err)
	}
	return nil
}

// ExpiredBefore scans for slot rows whose TTL passed before cutoff,
// excluding occupancy sentinel rows.
func (d *DAO) ExpiredBefore(ctx context.Context, cutoff int64) ([]SlotRecord, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("attribute_exists(#ttl) AND #ttl < :cutoff AND participant_id <> :sentinel"),
		ExpressionAttributeNames: map[string]*string{
			"#ttl": aws.String("ttl"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":cutoff":   {N: aws.String(strconv.FormatInt(cutoff, 10))},
			":sentinel": {S: aws.String(OccupancyKey)},
		},
	}

	var expired []SlotRecord
	err := d.api.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		var records []SlotRecord
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &records); err == nil {
			expired = append(expired, records...)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired slots: %w", err)
	}
	return expired, nil
}

// PutCounter overwrites a meeting's occupancy sentinel row. Used by the
// reaper to reconcile drift after TTL expiry.
func (d *DAO) PutCounter(ctx context.Context, meetingID string, activeCount int64) error {
	return d.table.Put(SlotRecord{
		MeetingID:     meetingID,
		ParticipantID: OccupancyKey,
		ActiveCount:   activeCount,
	}).RunWithContext(ctx)
}

// claimSlot increments the occupancy counter, refusing when capacity would
// be exceeded. capacity <= 0 means unchecked admission.
func (d *DAO) claimSlot(meetingID string, capacity int) *dynamodb.TransactWriteItem {
	update := &dynamodb.Update{
		TableName:        aws.String(d.tableName),
		Key:              slotKey(meetingID, OccupancyKey),
		UpdateExpression: aws.String("ADD active_count :one"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":one": {N: aws.String("1")},
		},
	}
	if capacity > 0 {
		update.ConditionExpression = aws.String("attribute_not_exists(active_count) OR active_count < :capacity")
		update.ExpressionAttributeValues[":capacity"] = &dynamodb.AttributeValue{N: aws.String(strconv.Itoa(capacity))}
	}
	return &dynamodb.TransactWriteItem{Update: update}
}

func (d *DAO) releaseSlot(meetingID string) *dynamodb.TransactWriteItem {
	return &dynamodb.TransactWriteItem{
		Update: &dynamodb.Update{
			TableName:           aws.String(d.tableName),
			Key:                 slotKey(meetingID, OccupancyKey),
			ConditionExpression: aws.String("active_count >= :one"),
			UpdateExpression:    aws.String("ADD active_count :minus_one"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":one":       {N: aws.String("1")},
				":minus_one": {N: aws.String("-1")},
			},
		},
	}
}

func slotKey(meetingID, participantID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"meeting_id":     {S: aws.String(meetingID)},
		"participant_id": {S: aws.String(participantID)},
	}
}

// cancellationReason returns the index of the first transact item whose
// condition failed, or -1 if the error is not a condition failure.
func cancellationReason(err error) int {
	var tce *dynamodb.TransactionCanceledException
	if !errors.As(err, &tce) {
		return -1
	}
	for i, reason := range tce.CancellationReasons {
		if aws.StringValue(reason.Code) == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}

func isConditionalCheckFailed(err error) bool {
	var ccf *dynamodb.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// sortByGrantedAt orders records oldest grant first, with the participant ID
// as a deterministic tie-break.
func sortByGrantedAt(records []SlotRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].GrantedAt != records[j].GrantedAt {
			return records[i].GrantedAt < records[j].GrantedAt
		}
		return records[i].ParticipantID < records[j].ParticipantID
	})
}
