// Package lifecycle implements the engine that owns the state of every
// task, job and workflow entity.
//
// The engine is split in two:
//
//   - [Reducer] is a pure function from (state, message) to (action, next
//     state, outbound messages). It decides which messages are stale,
//     duplicated or late and how each accepted message moves the entity
//     along its status machine.
//   - [Engine] performs the I/O around one reducer call: it reads the
//     state, writes the result with a conditional update, sends the
//     outbound messages and notifies extensions.
//
// # Concurrency
//
// Several engines may process messages of the same entity at once. The
// stored Version makes the write conditional: the consumer that loses the
// race sends nothing, and the message it held is either stale by then or
// redelivered and evaluated against the newer state. No locks are held
// across calls and delays are realised by the transport.
//
// # Outbox
//
// The encoded outbound messages of a transition are written together with
// the state, sent, then cleared. When sending fails the message is
// redelivered; the engine recognises it by its id and sends the stored
// outbox again instead of recomputing the transition. Terminal states are
// written the same way and deleted once their outbox is sent.
package lifecycle
