// Package engine wires all infinitic subsystems together and provides
// the primary application-level API for registering tasks and dispatching
// entities.
//
// # Building an Engine
//
//	n, err := infinitic.New(
//	    infinitic.WithStore(pgStore),
//	    infinitic.WithTransport(redisTransport),
//	    infinitic.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(n,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithQueueConfig(queue.Config{Name: "email.send", RateLimit: 100}),
//	)
//
// # Registering Tasks
//
//	eng.Register("email.send", worker.Func(sendEmail))
//	eng.RegisterService("billing", map[string]worker.Task{"charge": charge})
//
// # Dispatching
//
//	taskID, err := eng.Dispatch(ctx, entity.KindTask, "email.send", entity.MustJSON(input),
//	    client.WithRetry(backoff.DefaultPolicy()),
//	    client.WithTimeout(30*time.Second),
//	)
//
// Start runs the configured number of consumers per hosted entity kind.
// Each delivery goes through lifecycle.Engine.Process, retried with
// exponential backoff on transient failures; deliveries that cannot be
// processed end in the dead letter queue. One more consumer drains the
// monitoring topic into the stream broker returned by [Engine.Stream].
// When schedules are configured, [Engine.Scheduler] dispatches them on
// their cron expressions.
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the attempt execution chain
//   - [WithQueueConfig]: configure per-task rate limits and concurrency
//   - [WithSchedule]: add cron entries
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
