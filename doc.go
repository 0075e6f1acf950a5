// Package infinitic provides the lifecycle engine of a distributed
// orchestration system. Clients dispatch units of work (tasks, jobs and
// legacy workflow branches) identified by a stable id, stateless workers
// execute them, and a per-entity lifecycle engine tracks each one from
// dispatch to termination.
//
// The engine is a pure, idempotent reducer over a persisted state record.
// Every inbound message is applied with a conditional write against the
// version that was read, so any number of consumers can process the same
// entity concurrently under at-least-once, out-of-order delivery without
// global locks.
//
// # Quick Start
//
//	n, err := infinitic.New(
//	    infinitic.WithStore(memory.New()),
//	    infinitic.WithTransport(memtransport.New()),
//	)
//	eng, err := engine.Build(n)
//	eng.Register("send-email", worker.Func(sendEmail))
//	eng.Start(ctx)
//
//	taskID, err := eng.Dispatch(ctx, entity.KindTask, "send-email", input)
//
// # Architecture
//
// Each concern defines its own contract: entity.Store persists state
// records, transport.Sender and transport.Consumer move encoded envelopes,
// worker.Registry resolves executable tasks. A single backend implements
// the aggregate store.Store.
//
// All identifiers use TypeID: type-prefixed, K-sortable, UUIDv7-based.
// The prefix of an entity id names the engine that owns it.
package infinitic
