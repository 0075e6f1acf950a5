// Package redis implements store.Store on Redis through go-redis. Suitable
// for high-throughput deployments that already run Redis.
//
// A state is a Hash holding its JSON document and version. Sorted Sets
// scored by creation time index states per status and per status and
// kind. Conditional writes run as Lua scripts so the version check and the
// index maintenance are atomic.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
