package database

import (
	"context"
	"crypto/tls"
	"fmt"
	c "github.com/life-stream-dev/gaia-sync-server/internal/config"
	event2 "github.com/life-stream-dev/gaia-sync-server/internal/event"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"github.com/life-stream-dev/gaia-sync-server/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"net/url"
	"time"
)

const MemoryURI = "memory://"

var Client *mongo.Client
var Database *mongo.Database
var OperationTimeout = 5 * time.Second

type DBCloseCallback struct {
}

func NewDBCloseCallback() *DBCloseCallback {
	return &DBCloseCallback{}
}

func (dc *DBCloseCallback) Invoke(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	return Client.Disconnect(ctx)
}

func databaseURI(config c.DatabaseConfig) string {
	if config.URI != "" {
		return config.URI
	}
	// 编码特殊字符
	if config.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", config.Host, config.Port)
	}
	encodedUser := url.QueryEscape(config.Username)
	encodedPass := url.QueryEscape(config.Password)
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		encodedUser, encodedPass,
		config.Host,
		config.Port,
	)
}

func clientOptions(config c.Config) *options.ClientOptions {
	db := config.Database
	clientOptions := options.Client().ApplyURI(databaseURI(db)).SetAppName(config.AppName)
	// 连接池配置
	clientOptions.SetMinPoolSize(db.MinPoolSize)
	if db.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(db.MaxPoolSize)
	}
	clientOptions.SetMaxConnIdleTime(utils.DurationOr(db.ConnectIdleTimeout, 5*time.Minute))
	// 超时限制
	clientOptions.SetConnectTimeout(utils.DurationOr(db.ConnectTimeout, 10*time.Second))
	clientOptions.SetSocketTimeout(utils.DurationOr(db.SocketTimeout, 30*time.Second))
	// 心跳包
	clientOptions.SetHeartbeatInterval(utils.DurationOr(db.Heartbeat, 10*time.Second))
	if db.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	// 连接池监控
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: address=%s id=%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: address=%s id=%d reason=%s", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})
	return clientOptions
}

func ConnectDatabase() error {
	logger.DebugF("Connecting to database...")
	config, err := c.GetConfig()
	if err != nil {
		return fmt.Errorf("error occured while connecting to database: %w", err)
	}

	OperationTimeout = utils.DurationOr(config.Database.OperationTimeout, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	Client, err = mongo.Connect(ctx, clientOptions(config))
	if err != nil {
		return fmt.Errorf("error occured while connecting to database: %w", err)
	}

	if err = Client.Ping(ctx, nil); err != nil {
		_ = Client.Disconnect(ctx)
		return fmt.Errorf("error occured while pinging database: %w", err)
	}

	Database = Client.Database(config.Database.Database)

	if err := ensureIndexes(ctx, Database); err != nil {
		_ = Client.Disconnect(ctx)
		return err
	}

	event2.NewCleaner().Add(NewDBCloseCallback())
	logger.InfoF("Connected to database %s", config.Database.Database)
	return nil
}

// ensureIndexes 轮询只走 _id 和 updatedAt, 房间历史走 room+_id
func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(ChatMessageCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "room", Value: 1}, {Key: "_id", Value: -1}},
		Options: options.Index().SetName("chatmessages_room_id"),
	})
	if err != nil {
		return fmt.Errorf("error occured while creating chat message indexes: %w", err)
	}

	_, err = db.Collection(GameCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "updatedAt", Value: 1}},
		Options: options.Index().SetName("games_updated_at"),
	})
	if err != nil {
		return fmt.Errorf("error occured while creating game indexes: %w", err)
	}
	return nil
}
