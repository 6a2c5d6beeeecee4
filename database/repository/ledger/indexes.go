package ledgerRepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ensureIndexes creates indexes for fields frequently used in queries.
func (r *MongoLedger) ensureIndexes() error {
	ctx, cancel := newContext(context.Background(), 10*time.Second)
	defer cancel()

	indexSets := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{r.experienceColl, []mongo.IndexModel{
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{r.bookingColl, []mongo.IndexModel{
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "guideId", Value: 1}, {Key: "bookingDate", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "touristId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "bookingDate", Value: 1}}},
		}},
		{r.paymentColl, []mongo.IndexModel{
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{
				Keys: bson.D{{Key: "gateway", Value: 1}, {Key: "externalRef", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"externalRef": bson.M{"$exists": true}}),
			},
			{
				Keys: bson.D{{Key: "liveBookingId", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"liveBookingId": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "bookingId", Value: 1}}},
		}},
		{r.guideDayColl, []mongo.IndexModel{
			{Keys: bson.D{{Key: "guideId", Value: 1}, {Key: "date", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
	}

	for _, set := range indexSets {
		if _, err := set.coll.Indexes().CreateMany(ctx, set.models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", set.coll.Name(), err)
		}
	}
	return nil
}
