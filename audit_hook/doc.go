// Package audithook is an extension that turns lifecycle hooks into
// structured audit events.
//
// Every hook emits an [AuditEvent] through the [Recorder] interface with a
// severity (info for normal progress, warning for retries, conflicts and
// discarded messages, critical for dead letters) and metadata such as the
// entity name, attempt and elapsed time.
//
// # Logging audit events
//
//	eng, err := engine.Build(n,
//	    engine.WithExtension(audithook.New(audithook.SlogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionEntityCanceled,
//	        audithook.ActionDeadLettered,
//	    ),
//	)
package audithook
