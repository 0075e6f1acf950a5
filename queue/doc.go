// Package queue limits how fast and how many attempts of each task name
// the local worker pool executes.
//
// Every task name has its own executor topic. Without configuration the
// pool only applies its global concurrency; a [Config] adds a per-task
// rate limit and concurrency cap:
//
//	queue.Config{
//	    Name:           "email.send",
//	    MaxConcurrency: 5,      // max 5 concurrent attempts
//	    RateLimit:      10,     // max 10 attempts/s started
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// # Manager
//
// [Manager] enforces the limits when a delivery is received. It uses a
// token-bucket rate limiter (golang.org/x/time/rate) and an active-count
// gate for concurrency limits. A refused delivery is handed back to the
// transport, which redelivers it later.
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(name) {
//	    defer m.Release(name)
//	    // execute the attempt
//	}
package queue
