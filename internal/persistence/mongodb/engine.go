package mongodb

import (
	"context"
	"time"

	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/JoshJarabek7/messenger-backend/internal/persistence"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type storedEvent struct {
	Id         bson.ObjectID `bson:"_id"`
	CreateTime time.Time     `bson:"createTime"`
	ScopeId    string        `bson:"scopeId"`
	Kind       string        `bson:"kind"`
	Payload    string        `bson:"payload"`
}

type PersistenceEngine struct {
	collection *mongo.Collection
}

func NewPersistenceEngine(client *mongo.Client) *PersistenceEngine {
	database := client.Database("messenger")
	collection := database.Collection("events")

	return &PersistenceEngine{
		collection,
	}
}

func (e *PersistenceEngine) Setup(ctx context.Context) error {
	ttlIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "createTime", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(30 * 24 * 60 * 60),
	}

	scopeIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "scopeId", Value: 1},
			{Key: "_id", Value: -1},
		},
	}

	_, err := e.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{ttlIndexModel, scopeIndexModel})

	return err
}

func (e *PersistenceEngine) Save(ctx context.Context, request persistence.SaveRequest) (persistence.Record, error) {
	createTime := time.Now()

	result, err := e.collection.InsertOne(ctx, bson.D{
		{Key: "createTime", Value: createTime},
		{Key: "scopeId", Value: request.ScopeId},
		{Key: "kind", Value: string(request.Kind)},
		{Key: "payload", Value: string(request.Payload)},
	})
	if err != nil {
		return persistence.Record{}, err
	}

	return persistence.Record{
		Id:         result.InsertedID.(bson.ObjectID).Hex(),
		ScopeId:    request.ScopeId,
		Kind:       request.Kind,
		Payload:    request.Payload,
		CreateTime: createTime,
	}, nil
}

func (e *PersistenceEngine) List(ctx context.Context, scopeId string, lastSeenId string) ([]persistence.Record, error) {
	filter := bson.M{
		"scopeId": scopeId,
	}

	if lastSeenId != "" {
		lastSeenObjectId, err := bson.ObjectIDFromHex(lastSeenId)
		if err != nil {
			return nil, err
		}
		filter["_id"] = bson.M{"$gt": lastSeenObjectId}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(101)

	result, err := e.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var storedEvents []storedEvent
	err = result.All(ctx, &storedEvents)
	if err != nil {
		return nil, err
	}

	records := make([]persistence.Record, len(storedEvents))
	for i, stored := range storedEvents {
		records[i] = persistence.Record{
			Id:         stored.Id.Hex(),
			ScopeId:    stored.ScopeId,
			Kind:       event.Kind(stored.Kind),
			Payload:    []byte(stored.Payload),
			CreateTime: stored.CreateTime,
		}
	}

	return records, nil
}
