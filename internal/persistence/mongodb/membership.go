package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MembershipStore backs the authorization collaborator with a mongo
// collection of (scopeId, userId) pairs.
type MembershipStore struct {
	collection *mongo.Collection
}

func NewMembershipStore(client *mongo.Client) *MembershipStore {
	database := client.Database("messenger")
	collection := database.Collection("memberships")

	return &MembershipStore{
		collection,
	}
}

func (s *MembershipStore) Setup(ctx context.Context) error {
	membershipIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "scopeId", Value: 1},
			{Key: "userId", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err := s.collection.Indexes().CreateOne(ctx, membershipIndexModel)

	return err
}

func (s *MembershipStore) IsMember(ctx context.Context, userId string, scopeId string) (bool, error) {
	err := s.collection.FindOne(ctx, bson.M{
		"scopeId": scopeId,
		"userId":  userId,
	}).Err()

	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (s *MembershipStore) Grant(ctx context.Context, userId string, scopeId string) error {
	filter := bson.M{
		"scopeId": scopeId,
		"userId":  userId,
	}
	update := bson.M{
		"$setOnInsert": filter,
	}

	_, err := s.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))

	return err
}

func (s *MembershipStore) Revoke(ctx context.Context, userId string, scopeId string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{
		"scopeId": scopeId,
		"userId":  userId,
	})

	return err
}
