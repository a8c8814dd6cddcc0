package redis

// Key prefixes for primary entity storage.
const (
	prefixEndpoint = "herald:ep:"
	prefixDelivery = "herald:del:"
)

// Key prefixes for side records kept outside the entity JSON.
const (
	prefixCounters = "herald:ep:counters:" // hash: success, failure, last_error
	prefixLease    = "herald:lease:"       // hash: token, until (unix ms)
)

// Key prefixes for unique indexes.
const (
	uniqueEventID = "herald:u:del:evt:"
)

// Key prefixes for sorted set indexes.
const (
	zEndpointTenant = "herald:z:ep:tenant:"  // + tenant ID, score created_at
	zDeliveryTenant = "herald:z:del:tenant:" // + tenant ID, score created_at
	zDeliveryAll    = "herald:z:del:all"     // score created_at
	zDeliveryDue    = "herald:z:del:due"     // non-terminal only, score next_retry_at
	zDeliveryDone   = "herald:z:del:done"    // terminal only, score updated_at
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
