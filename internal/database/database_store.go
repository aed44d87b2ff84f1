package database

import (
	"context"
	"errors"
	"fmt"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"slices"
	"time"
)

// DBStore 基于 MongoDB 的 Store 实现
type DBStore struct {
	db      *mongo.Database
	timeout time.Duration
}

func NewDatabaseStore(db *mongo.Database) *DBStore {
	return &DBStore{db: db, timeout: OperationTimeout}
}

func handleErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("document does not exist: %w", err)
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (ds *DBStore) FindMessages(ctx context.Context, afterID primitive.ObjectID) ([]ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	filter := bson.D{{"_id", bson.D{{"$gt", afterID}}}}
	opts := options.Find().SetSort(bson.D{{"_id", 1}})

	cursor, err := ds.db.Collection(ChatMessageCollectionName).Find(ctx, filter, opts)
	if err != nil {
		return nil, handleErr(err)
	}
	return decodeMessages(ctx, cursor, 0)
}

// decodeMessages 逐条解码, 无法解码的消息跳过, 不影响其余消息
func decodeMessages(ctx context.Context, cursor *mongo.Cursor, capacity int64) ([]ChatMessage, error) {
	defer func() { _ = cursor.Close(ctx) }()

	messages := make([]ChatMessage, 0, capacity)
	for cursor.Next(ctx) {
		message, err := DecodeChatMessage(cursor.Current)
		if err != nil {
			logger.WarnF("Skipping undecodable chat message %v, details: %v", cursor.Current.Lookup("_id"), err)
			continue
		}
		messages = append(messages, message)
	}
	if err := cursor.Err(); err != nil {
		return nil, handleErr(err)
	}
	return messages, nil
}

func (ds *DBStore) FindRoomHistory(ctx context.Context, room string, limit int64) ([]ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	if room == "" {
		return nil, ErrEmptyID
	}

	filter := bson.D{{"room", room}}
	opts := options.Find().SetSort(bson.D{{"_id", -1}}).SetLimit(limit)

	startTime := time.Now()
	cursor, err := ds.db.Collection(ChatMessageCollectionName).Find(ctx, filter, opts)
	if err != nil {
		return nil, handleErr(err)
	}
	messages, err := decodeMessages(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}
	logger.DebugF("room history query cost: %v", time.Since(startTime))

	slices.Reverse(messages)
	return messages, nil
}

func (ds *DBStore) FindGames(ctx context.Context, conditions []GameCondition) ([]GameSnapshot, error) {
	if len(conditions) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	or := make(bson.A, 0, len(conditions))
	for _, condition := range conditions {
		or = append(or, bson.D{
			{"_id", condition.GameID},
			{"updatedAt", bson.D{{"$gt", condition.Since}}},
		})
	}
	filter := bson.D{{"$or", or}}
	opts := options.Find().SetProjection(bson.D{{"updatedAt", 1}, {"players._id", 1}})

	cursor, err := ds.db.Collection(GameCollectionName).Find(ctx, filter, opts)
	if err != nil {
		return nil, handleErr(err)
	}
	games := make([]GameSnapshot, 0)
	if err := cursor.All(ctx, &games); err != nil {
		return nil, handleErr(err)
	}
	return games, nil
}

func (ds *DBStore) FindUsersActivity(ctx context.Context, ids []primitive.ObjectID) ([]UserActivity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	filter := bson.D{{"_id", bson.D{{"$in", ids}}}}
	opts := options.Find().SetProjection(bson.D{{"security.lastActive", 1}, {"security.lastOnline", 1}})

	cursor, err := ds.db.Collection(UserCollectionName).Find(ctx, filter, opts)
	if err != nil {
		return nil, handleErr(err)
	}
	users := make([]UserActivity, 0, len(ids))
	if err := cursor.All(ctx, &users); err != nil {
		return nil, handleErr(err)
	}
	return users, nil
}

func (ds *DBStore) UpdateUserActivity(ctx context.Context, userID primitive.ObjectID, update ActivityUpdate) error {
	if userID.IsZero() {
		return ErrEmptyID
	}
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	set := bson.D{{"security.lastActive", update.LastActive}}
	if !update.LastOnline.IsZero() {
		set = append(set, bson.E{Key: "security.lastOnline", Value: update.LastOnline})
	}

	result, err := ds.db.Collection(UserCollectionName).UpdateOne(ctx, bson.D{{"_id", userID}}, bson.D{{"$set", set}})
	if err != nil {
		return handleErr(err)
	}
	logger.DebugF("User activity updated: user=%s, matched=%d, online=%v",
		userID.Hex(),
		result.MatchedCount,
		!update.LastOnline.IsZero(),
	)
	return nil
}

func (ds *DBStore) FindActiveTurnGameIDs(ctx context.Context, userID primitive.ObjectID) ([]string, error) {
	if userID.IsZero() {
		return nil, ErrEmptyID
	}
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	filter := bson.D{{"currentPlayers._id", userID}, {"status", "active"}}
	opts := options.Find().SetProjection(bson.D{{"_id", 1}})

	cursor, err := ds.db.Collection(GameCollectionName).Find(ctx, filter, opts)
	if err != nil {
		return nil, handleErr(err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, handleErr(err)
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}
