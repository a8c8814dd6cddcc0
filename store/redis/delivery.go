package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// deliveryModel is the JSON representation stored in Redis. The claim is
// kept in a separate lease hash.
type deliveryModel struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	EndpointID  string             `json:"endpoint_id"`
	EventType   string             `json:"event_type"`
	EventID     string             `json:"event_id"`
	Payload     string             `json:"payload"`
	Signature   string             `json:"signature"`
	Status      string             `json:"status"`
	Attempts    []delivery.Attempt `json:"attempts"`
	NextRetryAt *time.Time         `json:"next_retry_at,omitempty"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func toDeliveryModel(r *delivery.Record) *deliveryModel {
	attempts := r.Attempts
	if attempts == nil {
		attempts = []delivery.Attempt{}
	}
	return &deliveryModel{
		ID:          r.ID.String(),
		TenantID:    r.TenantID,
		EndpointID:  r.EndpointID.String(),
		EventType:   r.EventType,
		EventID:     r.EventID.String(),
		Payload:     string(r.Payload),
		Signature:   r.Signature,
		Status:      string(r.Status),
		Attempts:    attempts,
		NextRetryAt: r.NextRetryAt,
		DeliveredAt: r.DeliveredAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel, lease map[string]string) (*delivery.Record, error) {
	recID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	epID, err := id.ParseEndpointID(m.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}

	rec := &delivery.Record{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          recID,
		TenantID:    m.TenantID,
		EndpointID:  epID,
		EventType:   m.EventType,
		EventID:     evtID,
		Payload:     json.RawMessage(m.Payload),
		Signature:   m.Signature,
		Status:      delivery.Status(m.Status),
		Attempts:    m.Attempts,
		NextRetryAt: m.NextRetryAt,
		DeliveredAt: m.DeliveredAt,
	}
	if rec.Attempts == nil {
		rec.Attempts = []delivery.Attempt{}
	}
	if token := lease["token"]; token != "" {
		rec.ClaimToken = token
		if ms, err := strconv.ParseInt(lease["until"], 10, 64); err == nil {
			until := time.UnixMilli(ms).UTC()
			rec.LeaseUntil = &until
		}
	}
	return rec, nil
}

// Lua scripts. Literal key prefixes must match keys.go.

// createScript inserts a batch, refusing it whole if any event ID is taken.
// ARGV[1] = record count, then per record:
// id, event_id, tenant_id, json, created score, index ("due"|"done"|""), index score
var createScript = goredis.NewScript(`
local n = tonumber(ARGV[1])
local seen = {}
for i = 0, n - 1 do
    local evt = ARGV[2 + i * 7 + 1]
    if seen[evt] or redis.call('EXISTS', 'herald:u:del:evt:' .. evt) == 1 then
        return 0
    end
    seen[evt] = true
end
for i = 0, n - 1 do
    local b = 2 + i * 7
    local id, evt, tenant, doc = ARGV[b], ARGV[b + 1], ARGV[b + 2], ARGV[b + 3]
    local created, index, score = ARGV[b + 4], ARGV[b + 5], ARGV[b + 6]
    redis.call('SET', 'herald:del:' .. id, doc)
    redis.call('SET', 'herald:u:del:evt:' .. evt, id)
    redis.call('ZADD', 'herald:z:del:tenant:' .. tenant, created, id)
    redis.call('ZADD', 'herald:z:del:all', created, id)
    if index == 'due' then
        redis.call('ZADD', 'herald:z:del:due', score, id)
    elseif index == 'done' then
        redis.call('ZADD', 'herald:z:del:done', score, id)
    end
end
return 1
`)

// claimScript takes one non-terminal record without a live lease.
// KEYS[1] = due set, KEYS[2] = lease hash
// ARGV[1] = id, ARGV[2] = token, ARGV[3] = lease until ms, ARGV[4] = now ms
// Returns 1 claimed, 0 not in the due set, -1 held by a live lease.
var claimScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
local lease = redis.call('HGET', KEYS[2], 'until')
if lease and tonumber(lease) > tonumber(ARGV[4]) then return -1 end
redis.call('HSET', KEYS[2], 'token', ARGV[2], 'until', ARGV[3])
return 1
`)

// claimDueScript walks the due set in score order and leases up to limit
// records whose lease is absent or expired.
// KEYS[1] = due set
// ARGV[1] = now ms, ARGV[2] = limit, ARGV[3] = token, ARGV[4] = lease until ms
var claimDueScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local claimed = {}
local offset = 0
while #claimed < limit do
    local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', offset, 100)
    if #ids == 0 then break end
    for _, id in ipairs(ids) do
        local key = 'herald:lease:' .. id
        local lease = redis.call('HGET', key, 'until')
        if not lease or tonumber(lease) <= now then
            redis.call('HSET', key, 'token', ARGV[3], 'until', ARGV[4])
            claimed[#claimed + 1] = id
            if #claimed >= limit then break end
        end
    end
    offset = offset + #ids
end
return claimed
`)

// saveAttemptScript writes an outcome if the caller's token still holds a
// non-terminal record, then moves the record between the due and done sets.
// KEYS[1] = lease hash, KEYS[2] = record, KEYS[3] = due set, KEYS[4] = done set
// ARGV[1] = token, ARGV[2] = json, ARGV[3] = id, ARGV[4] = "1" if terminal,
// ARGV[5] = score (next retry ms, or updated ms when terminal)
// Returns 1 saved, 0 claim lost, -1 missing record.
var saveAttemptScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then return 0 end
if not redis.call('ZSCORE', KEYS[3], ARGV[3]) then return 0 end
redis.call('SET', KEYS[2], ARGV[2])
if ARGV[4] == '1' then
    redis.call('ZREM', KEYS[3], ARGV[3])
    redis.call('ZADD', KEYS[4], ARGV[5], ARGV[3])
else
    redis.call('ZADD', KEYS[3], ARGV[5], ARGV[3])
end
redis.call('DEL', KEYS[1])
return 1
`)

// releaseScript drops a lease held by token.
// KEYS[1] = lease hash, KEYS[2] = record; ARGV[1] = token
var releaseScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'token') == ARGV[1] then
    redis.call('DEL', KEYS[1])
end
return 1
`)

func (s *Store) CreateRecords(ctx context.Context, recs []*delivery.Record) error {
	if len(recs) == 0 {
		return nil
	}

	args := make([]any, 0, 1+len(recs)*7)
	args = append(args, len(recs))
	for _, r := range recs {
		m := toDeliveryModel(r)
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("herald/redis: create records marshal: %w", err)
		}
		index, score := indexFor(r)
		args = append(args, m.ID, m.EventID, m.TenantID, string(raw), scoreFromTime(m.CreatedAt), index, score)
	}

	ok, err := createScript.Run(ctx, s.rdb, nil, args...).Int()
	if err != nil {
		return fmt.Errorf("herald/redis: create records: %w", err)
	}
	if ok == 0 {
		return herald.ErrDuplicateDelivery
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	return s.loadRecord(ctx, recID.String())
}

func (s *Store) ListRecords(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	recs, err := s.filtered(ctx, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list records: %w", err)
	}
	return applyPagination(recs, opts.Offset, opts.Limit), nil
}

func (s *Store) Claim(ctx context.Context, recID id.ID, token string, leaseUntil, now time.Time) (*delivery.Record, error) {
	key := recID.String()
	res, err := claimScript.Run(ctx, s.rdb,
		[]string{zDeliveryDue, entityKey(prefixLease, key)},
		key, token, leaseUntil.UnixMilli(), now.UnixMilli(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: claim: %w", err)
	}

	switch res {
	case 1:
		return s.loadRecord(ctx, key)
	case 0:
		// Terminal, or not stored at all.
		if _, err := s.loadRecord(ctx, key); err != nil {
			return nil, err
		}
		return nil, herald.ErrClaimConflict
	default:
		return nil, herald.ErrClaimConflict
	}
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, token string, leaseUntil time.Time) ([]*delivery.Record, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	ids, err := claimDueScript.Run(ctx, s.rdb, []string{zDeliveryDue},
		now.UnixMilli(), limit, token, leaseUntil.UnixMilli(),
	).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return []*delivery.Record{}, nil
		}
		return nil, fmt.Errorf("herald/redis: claim due: %w", err)
	}

	result := make([]*delivery.Record, 0, len(ids))
	for _, entryID := range ids {
		rec, err := s.loadRecord(ctx, entryID)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *Store) SaveAttempt(ctx context.Context, rec *delivery.Record) error {
	if rec.ClaimToken == "" {
		return herald.ErrClaimLost
	}

	m := toDeliveryModel(rec)
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("herald/redis: save attempt marshal: %w", err)
	}

	terminal := "0"
	score := "+inf"
	if rec.Status.Terminal() {
		terminal = "1"
		score = strconv.FormatFloat(scoreFromTime(rec.UpdatedAt), 'f', -1, 64)
	} else if rec.NextRetryAt != nil {
		score = strconv.FormatFloat(scoreFromTime(*rec.NextRetryAt), 'f', -1, 64)
	}

	res, err := saveAttemptScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixLease, m.ID), entityKey(prefixDelivery, m.ID), zDeliveryDue, zDeliveryDone},
		rec.ClaimToken, string(raw), m.ID, terminal, score,
	).Int()
	if err != nil {
		return fmt.Errorf("herald/redis: save attempt: %w", err)
	}

	switch res {
	case 1:
		return nil
	case -1:
		return herald.ErrDeliveryNotFound
	default:
		return herald.ErrClaimLost
	}
}

func (s *Store) Release(ctx context.Context, recID id.ID, token string) error {
	key := recID.String()
	res, err := releaseScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixLease, key), entityKey(prefixDelivery, key)},
		token,
	).Int()
	if err != nil {
		return fmt.Errorf("herald/redis: release: %w", err)
	}
	if res == -1 {
		return herald.ErrDeliveryNotFound
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context, f delivery.Filter) (map[delivery.Status]int64, error) {
	recs, err := s.filtered(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: count by status: %w", err)
	}

	counts := make(map[delivery.Status]int64)
	for _, r := range recs {
		counts[r.Status]++
	}
	return counts, nil
}

func (s *Store) CountByEventType(ctx context.Context, f delivery.Filter, limit int) ([]delivery.EventTypeCount, error) {
	recs, err := s.filtered(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: count by event type: %w", err)
	}

	counts := make(map[string]int64)
	for _, r := range recs {
		counts[r.EventType]++
	}
	return topEventTypes(counts, limit), nil
}

// PruneRecords deletes terminal records last updated before before, using
// the done set as the age index.
func (s *Store) PruneRecords(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, zDeliveryDone, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: prune records: %w", err)
	}

	var n int64
	for _, entryID := range ids {
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, entryID), &m); err != nil {
			if isNotFound(err) {
				s.rdb.ZRem(ctx, zDeliveryDone, entryID)
				continue
			}
			return n, fmt.Errorf("herald/redis: prune get: %w", err)
		}

		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, entityKey(prefixDelivery, entryID), uniqueEventID+m.EventID, entityKey(prefixLease, entryID))
		pipe.ZRem(ctx, zDeliveryTenant+m.TenantID, entryID)
		pipe.ZRem(ctx, zDeliveryAll, entryID)
		pipe.ZRem(ctx, zDeliveryDone, entryID)
		if _, err := pipe.Exec(ctx); err != nil {
			return n, fmt.Errorf("herald/redis: prune delete: %w", err)
		}
		n++
	}
	return n, nil
}

// filtered loads records matching f, newest first. A tenant filter narrows
// the scan to that tenant's index.
func (s *Store) filtered(ctx context.Context, f delivery.Filter) ([]*delivery.Record, error) {
	index := zDeliveryAll
	if f.TenantID != "" {
		index = zDeliveryTenant + f.TenantID
	}
	ids, err := s.rdb.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Record, 0, len(ids))
	for _, entryID := range ids {
		rec, err := s.loadRecord(ctx, entryID)
		if err != nil {
			if isDeliveryNotFound(err) {
				continue
			}
			return nil, err
		}
		if f.Match(rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *Store) loadRecord(ctx context.Context, recID string) (*delivery.Record, error) {
	var m deliveryModel
	if err := s.getEntity(ctx, entityKey(prefixDelivery, recID), &m); err != nil {
		if isNotFound(err) {
			return nil, herald.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("herald/redis: get record: %w", err)
	}

	lease, err := s.rdb.HGetAll(ctx, entityKey(prefixLease, recID)).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get lease: %w", err)
	}
	return fromDeliveryModel(&m, lease)
}

// indexFor picks the sorted set a new record joins and its score.
func indexFor(r *delivery.Record) (string, string) {
	if r.Status.Terminal() {
		return "done", strconv.FormatFloat(scoreFromTime(r.UpdatedAt), 'f', -1, 64)
	}
	if r.NextRetryAt == nil {
		return "due", "+inf"
	}
	return "due", strconv.FormatFloat(scoreFromTime(*r.NextRetryAt), 'f', -1, 64)
}
