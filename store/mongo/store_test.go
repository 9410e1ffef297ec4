//go:build integration

package mongo_test

import (
	"context"
	"testing"

	"github.com/hyunkyoun/moira/store"
	"github.com/hyunkyoun/moira/store/mongo"
	"github.com/hyunkyoun/moira/store/storetest"
)

func TestStore(t *testing.T) {
	uri := storetest.MongoURI(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := mongo.Open(ctx, uri, "moira_test")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })

		if err := s.DB().Drop(ctx); err != nil {
			t.Fatalf("drop: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}
