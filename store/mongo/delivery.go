package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

var nonTerminal = bson.M{"$in": bson.A{string(delivery.StatusPending), string(delivery.StatusRetrying)}}

// CreateRecords inserts a batch of records. A failed batch is rolled back by
// deleting whatever part of it was written.
func (s *Store) CreateRecords(ctx context.Context, recs []*delivery.Record) error {
	if len(recs) == 0 {
		return nil
	}

	models := make([]deliveryModel, len(recs))
	ids := make(bson.A, len(recs))
	for i, r := range recs {
		models[i] = *toDeliveryModel(r)
		ids[i] = models[i].ID
	}

	_, err := s.mdb.NewInsert(&models).Exec(ctx)
	if err == nil {
		return nil
	}

	if _, delErr := s.mdb.Collection(colDeliveries).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); delErr != nil {
		return fmt.Errorf("herald/mongo: roll back partial batch: %w", delErr)
	}
	if mongod.IsDuplicateKeyError(err) {
		return herald.ErrDuplicateDelivery
	}

	return fmt.Errorf("herald/mongo: create records: %w", err)
}

// GetRecord returns a record by ID.
func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	var m deliveryModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": recID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, herald.ErrDeliveryNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get record: %w", err)
	}

	return fromDeliveryModel(&m)
}

// ListRecords returns records matching opts, newest first.
func (s *Store) ListRecords(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	var models []deliveryModel

	q := s.mdb.NewFind(&models).
		Filter(filterDoc(opts.Filter)).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list records: %w", err)
	}

	return fromDeliveryModels(models)
}

// Claim takes one record regardless of its retry time.
func (s *Store) Claim(ctx context.Context, recID id.ID, token string, leaseUntil, now time.Time) (*delivery.Record, error) {
	filter := claimableFilter(now)
	filter["_id"] = recID.String()

	rec, err := s.claimOne(ctx, filter, token, leaseUntil, nil)
	if err != nil {
		if isNoDocuments(err) {
			if _, getErr := s.GetRecord(ctx, recID); getErr != nil {
				return nil, getErr
			}
			return nil, herald.ErrClaimConflict
		}
		return nil, err
	}

	return rec, nil
}

// ClaimDue claims due records one at a time with FindOneAndUpdate, oldest
// due first.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, token string, leaseUntil time.Time) ([]*delivery.Record, error) {
	result := make([]*delivery.Record, 0, limit)
	sort := bson.D{{Key: "next_retry_at", Value: 1}, {Key: "_id", Value: 1}}

	for range limit {
		filter := claimableFilter(now)
		filter["next_retry_at"] = bson.M{"$lte": now}

		rec, err := s.claimOne(ctx, filter, token, leaseUntil, sort)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, err
		}

		result = append(result, rec)
	}

	return result, nil
}

func (s *Store) claimOne(ctx context.Context, filter bson.M, token string, leaseUntil time.Time, sort bson.D) (*delivery.Record, error) {
	update := bson.M{
		"$set": bson.M{
			"claim_token": token,
			"lease_until": leaseUntil,
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if sort != nil {
		opts = opts.SetSort(sort)
	}

	var m deliveryModel
	err := s.mdb.Collection(colDeliveries).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, err
		}
		return nil, fmt.Errorf("herald/mongo: claim: %w", err)
	}

	return fromDeliveryModel(&m)
}

// SaveAttempt writes an attempt outcome guarded by the claim token.
func (s *Store) SaveAttempt(ctx context.Context, rec *delivery.Record) error {
	if rec.ClaimToken == "" {
		return herald.ErrClaimLost
	}

	res, err := s.mdb.Collection(colDeliveries).UpdateOne(ctx,
		bson.M{
			"_id":         rec.ID.String(),
			"claim_token": rec.ClaimToken,
			"status":      nonTerminal,
		},
		bson.M{"$set": bson.M{
			"status":        string(rec.Status),
			"attempts":      toAttemptModels(rec.Attempts),
			"next_retry_at": rec.NextRetryAt,
			"delivered_at":  rec.DeliveredAt,
			"updated_at":    rec.UpdatedAt,
			"claim_token":   "",
			"lease_until":   nil,
		}},
	)
	if err != nil {
		return fmt.Errorf("herald/mongo: save attempt: %w", err)
	}

	if res.MatchedCount == 0 {
		if _, getErr := s.GetRecord(ctx, rec.ID); getErr != nil {
			return getErr
		}
		return herald.ErrClaimLost
	}

	return nil
}

// Release clears a claim if token still holds it.
func (s *Store) Release(ctx context.Context, recID id.ID, token string) error {
	res, err := s.mdb.Collection(colDeliveries).UpdateOne(ctx,
		bson.M{"_id": recID.String(), "claim_token": token},
		bson.M{"$set": bson.M{"claim_token": "", "lease_until": nil}},
	)
	if err != nil {
		return fmt.Errorf("herald/mongo: release: %w", err)
	}

	if res.MatchedCount == 0 {
		_, err := s.GetRecord(ctx, recID)
		return err
	}

	return nil
}

// CountByStatus groups matching records by status.
func (s *Store) CountByStatus(ctx context.Context, f delivery.Filter) (map[delivery.Status]int64, error) {
	rows, err := s.groupBy(ctx, f, "$status", 0)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: count by status: %w", err)
	}

	counts := make(map[delivery.Status]int64, len(rows))
	for _, r := range rows {
		counts[delivery.Status(r.Key)] = r.Count
	}

	return counts, nil
}

// CountByEventType returns the most frequent event types among matching records.
func (s *Store) CountByEventType(ctx context.Context, f delivery.Filter, limit int) ([]delivery.EventTypeCount, error) {
	rows, err := s.groupBy(ctx, f, "$event_type", limit)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: count by event type: %w", err)
	}

	out := make([]delivery.EventTypeCount, len(rows))
	for i, r := range rows {
		out[i] = delivery.EventTypeCount{EventType: r.Key, Count: r.Count}
	}

	return out, nil
}

func (s *Store) groupBy(ctx context.Context, f delivery.Filter, field string, limit int) ([]groupCount, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$match", Value: filterDoc(f)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}

	cur, err := s.mdb.Collection(colDeliveries).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var rows []groupCount
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	return rows, nil
}

// PruneRecords deletes terminal records last updated before before.
func (s *Store) PruneRecords(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*deliveryModel)(nil)).
		Many().
		Filter(bson.M{
			"status":     bson.M{"$in": bson.A{string(delivery.StatusDelivered), string(delivery.StatusFailed)}},
			"updated_at": bson.M{"$lt": before},
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: prune records: %w", err)
	}

	return res.DeletedCount(), nil
}

// claimableFilter matches non-terminal records without a live lease.
func claimableFilter(now time.Time) bson.M {
	return bson.M{
		"status": nonTerminal,
		"$or": bson.A{
			bson.M{"lease_until": nil},
			bson.M{"lease_until": bson.M{"$lte": now}},
		},
	}
}

func filterDoc(f delivery.Filter) bson.M {
	filter := bson.M{}
	if f.TenantID != "" {
		filter["tenant_id"] = f.TenantID
	}
	if !f.EndpointID.IsNil() {
		filter["endpoint_id"] = f.EndpointID.String()
	}
	if f.EventType != "" {
		filter["event_type"] = f.EventType
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.From != nil || f.To != nil {
		created := bson.M{}
		if f.From != nil {
			created["$gte"] = *f.From
		}
		if f.To != nil {
			created["$lte"] = *f.To
		}
		filter["created_at"] = created
	}
	return filter
}

func fromDeliveryModels(models []deliveryModel) ([]*delivery.Record, error) {
	result := make([]*delivery.Record, 0, len(models))

	for i := range models {
		r, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, r)
	}

	return result, nil
}
