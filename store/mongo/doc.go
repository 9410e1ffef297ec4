// Package mongo implements store.Store on the official MongoDB driver.
// Jobs are single documents keyed by job ID; Migrate creates the indexes
// that back listing by owner, state and creation order.
//
// Pass a database handle the caller owns, or let Open connect:
//
//	s, err := mongo.Open(ctx, "mongodb://localhost:27017", "moira")
//	if err != nil { ... }
//	defer s.Close()
//	s.Migrate(ctx)
package mongo
