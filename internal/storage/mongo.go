package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/94cram/botcore/memory"
)

// =============================================================================
// 💾 MongoDB 持久化仓储
// =============================================================================

const (
	collGlobal = "bot_memory_global"
	collTenant = "bot_memory_tenant"
	collUser   = "bot_memory_user"
)

var (
	_ memory.GlobalRepository = (*GlobalRepo)(nil)
	_ memory.TenantRepository = (*TenantRepo)(nil)
	_ memory.UserRepository   = (*UserRepo)(nil)
)

// Config MongoDB 连接配置
type Config struct {
	// 连接 URI
	URI string `yaml:"uri" json:"uri"`

	// 数据库名
	Database string `yaml:"database" json:"database"`

	// 连接与探活超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// DefaultConfig 返回默认 MongoDB 配置
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "botcore",
		ConnectTimeout: 10 * time.Second,
	}
}

// Client wraps the mongo client plus the database handle the repositories
// hang off.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// NewClient connects and pings the primary. The caller owns Close.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger.Info("mongodb connected", zap.String("database", config.Database))
	return &Client{
		client: client,
		db:     client.Database(config.Database),
		logger: logger.With(zap.String("component", "mongo_storage")),
	}, nil
}

// Close disconnects from the server.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Ping probes the primary, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// GlobalRepo returns the global memory repository.
func (c *Client) GlobalRepo() *GlobalRepo {
	return &GlobalRepo{coll: c.db.Collection(collGlobal)}
}

// TenantRepo returns the tenant memory repository.
func (c *Client) TenantRepo() *TenantRepo {
	return &TenantRepo{coll: c.db.Collection(collTenant)}
}

// UserRepo returns the user memory repository.
func (c *Client) UserRepo() *UserRepo {
	return &UserRepo{coll: c.db.Collection(collUser)}
}

// GlobalRepo 全局记忆条目仓储，实现 memory.GlobalRepository
type GlobalRepo struct {
	coll *mongo.Collection
}

// ActiveEntries 返回所有启用中的条目，按创建时间升序
func (r *GlobalRepo) ActiveEntries(ctx context.Context) ([]memory.GlobalEntry, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"active": true},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find global entries: %w", err)
	}
	var entries []memory.GlobalEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode global entries: %w", err)
	}
	return entries, nil
}

// Insert 写入一条新条目
func (r *GlobalRepo) Insert(ctx context.Context, entry *memory.GlobalEntry) error {
	if _, err := r.coll.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert global entry: %w", err)
	}
	return nil
}

// Entry 按 ID 读取单条目，不存在时返回 (nil, nil)
func (r *GlobalRepo) Entry(ctx context.Context, id string) (*memory.GlobalEntry, error) {
	var entry memory.GlobalEntry
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find global entry: %w", err)
	}
	return &entry, nil
}

// UpdateUsage 覆盖写使用计数，最后写入者胜
func (r *GlobalRepo) UpdateUsage(ctx context.Context, id string, usageCount int, updatedAt time.Time) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"usage_count": usageCount,
		"updated_at":  updatedAt,
	}})
	if err != nil {
		return fmt.Errorf("update global usage: %w", err)
	}
	return nil
}

// TenantRepo 租户记忆仓储，实现 memory.TenantRepository
type TenantRepo struct {
	coll *mongo.Collection
}

// Doc 读取整个租户文档，不存在时返回 (nil, nil)
func (r *TenantRepo) Doc(ctx context.Context, tenantID string) (*memory.TenantDoc, error) {
	var doc memory.TenantDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant doc: %w", err)
	}
	return &doc, nil
}

// Replace 整文档覆盖写，文档不存在时插入
func (r *TenantRepo) Replace(ctx context.Context, doc *memory.TenantDoc) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": doc.TenantID}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace tenant doc: %w", err)
	}
	return nil
}

// UserRepo 用户会话仓储，实现 memory.UserRepository
type UserRepo struct {
	coll *mongo.Collection
}

// Doc 按会话键读取用户文档，不存在时返回 (nil, nil)
func (r *UserRepo) Doc(ctx context.Context, key string) (*memory.UserDoc, error) {
	var doc memory.UserDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user doc: %w", err)
	}
	return &doc, nil
}

// Replace 整文档覆盖写，文档不存在时插入
func (r *UserRepo) Replace(ctx context.Context, doc *memory.UserDoc) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace user doc: %w", err)
	}
	return nil
}
