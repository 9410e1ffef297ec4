// Package redis implements store.Store on Redis. Each job is a Hash
// holding its JSON record plus the indexed fields; sorted sets scored by
// creation time index all jobs, jobs per owner and jobs per state.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
