// Package natsstore implements store.Store on NATS JetStream key-value
// buckets.
//
// Every state is one key in the infinitic_states bucket. The store version
// of a state is the revision JetStream assigned to its last write, so a
// conditional update is a KV update against that revision. DLQ entries live
// in the infinitic_dlq bucket.
//
// Listing scans the bucket keys. Use this backend when NATS is already the
// message backbone and the number of live states stays moderate.
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	s, err := natsstore.New(nc)
//	if err := s.Migrate(ctx); err != nil { ... }
package natsstore
