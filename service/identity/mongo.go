package identity

import (
	"context"
	"errors"

	"MinerWs/data/database"
	"MinerWs/module/miner/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSignStore keeps MinerSign documents in the miner_sign collection.
type MongoSignStore struct {
	coll *mongo.Collection
}

var _ SignStore = (*MongoSignStore)(nil)

func NewMongoSignStore(db *mongo.Database) *MongoSignStore {
	return &MongoSignStore{coll: database.Collection(db, &model.MinerSign{})}
}

// EnsureIndexes creates the unique client_id index.
func (s *MongoSignStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_client_id"),
	})
	return err
}

func (s *MongoSignStore) GetByClientID(ctx context.Context, clientID string) (*model.MinerSign, error) {
	var sign model.MinerSign
	err := s.coll.FindOne(ctx, bson.M{"client_id": clientID}).Decode(&sign)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound.WrapMsg("miner sign", "client_id", clientID)
	}
	if err != nil {
		return nil, err
	}
	return &sign, nil
}

// SaveSign upserts by client_id; _id is only written on insert.
func (s *MongoSignStore) SaveSign(ctx context.Context, sign model.MinerSign) error {
	update := bson.M{
		"$set": bson.M{
			"login_name":      sign.LoginName,
			"outer_user_id":   sign.OuterUserID,
			"aes_password":    sign.AESPassword,
			"aes_password_on": sign.AESPasswordOn,
		},
		"$setOnInsert": bson.M{"_id": sign.ID},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"client_id": sign.ClientID}, update, options.Update().SetUpsert(true))
	return err
}
