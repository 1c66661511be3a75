package article

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoRepository stores articles as documents in a MongoDB collection.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates a repository writing to db.collection.
func NewMongoRepository(db *mongo.Database, collection string) *MongoRepository {
	return &MongoRepository{coll: db.Collection(collection)}
}

// Insert adds one document; the server-assigned ObjectID becomes rec.ID.
func (r *MongoRepository) Insert(ctx context.Context, rec *Record) error {
	res, err := r.coll.InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	switch id := res.InsertedID.(type) {
	case primitive.ObjectID:
		rec.ID = id.Hex()
	case string:
		rec.ID = id
	default:
		rec.ID = fmt.Sprint(id)
	}
	return nil
}
