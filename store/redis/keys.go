package redis

// Redis key naming conventions for infinitic data.
// All keys are prefixed with "infinitic:" to avoid collisions.

const keyPrefix = "infinitic:"

// ── State keys ──

// stateKey returns the Hash key of an entity state: infinitic:state:{id}
func stateKey(id string) string { return keyPrefix + "state:" + id }

// statusIndexKey returns the Sorted Set of state ids with a status.
func statusIndexKey(status string) string { return keyPrefix + "states:" + status }

// kindIndexKey returns the Sorted Set of state ids with a status and kind.
func kindIndexKey(status, kind string) string {
	return keyPrefix + "states:" + status + ":" + kind
}

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry: infinitic:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIndexKey is the Sorted Set of all DLQ entry ids scored by FailedAt.
const dlqIndexKey = keyPrefix + "dlq_ids"

// dlqTopicKey returns the Sorted Set of DLQ entry ids of one topic.
func dlqTopicKey(topic string) string { return keyPrefix + "dlq_topic:" + topic }
