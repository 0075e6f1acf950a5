// Package dlq provides the dead letter queue for deliveries an engine
// could not process. It supports inspection, replay, and purging.
//
// A delivery is dead-lettered when its body cannot be decoded, when it
// carries a message variant no engine understands, or when processing
// keeps failing after the consumer's retries. The raw body is kept
// together with its topic and partition key so it can be sent again once
// the cause is fixed.
//
// # Entry
//
// A [Entry] captures:
//   - Topic / Key: where the delivery came from
//   - Body: the encoded envelope as received
//   - MessageKind / EntityID: decoded header fields, when available
//   - Error: why processing gave up
//   - Attempts: how many times the transport delivered it
//   - FailedAt: when the delivery was given up
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, transport)
//
//	// Push is called by the engine consumers.
//	svc.Push(ctx, delivery, env, err)
//
//	// Replay sends the body back to its topic.
//	svc.Replay(ctx, entryID)
//
// # Admin API
//
// The DLQ is exposed via the HTTP admin API:
//   - GET  /v1/dlq                 list entries
//   - GET  /v1/dlq/count           entry count
//   - POST /v1/dlq/purge           drop old entries
//   - GET  /v1/dlq/{entryId}       get a single entry
//   - POST /v1/dlq/{entryId}/replay replay one entry
package dlq
