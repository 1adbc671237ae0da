package database

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB wraps the MongoDB client and database
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// Collection names
const (
	CollectionUsers = "users"
	CollectionRuns  = "runs"
)

// runHistoryTTL is how long run records are kept.
const runHistoryTTL = 90 * 24 * time.Hour

// NewMongoDB creates a new MongoDB connection with connection pooling.
// The database name comes from the URI path, then fallbackDB.
func NewMongoDB(uri, fallbackDB string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := extractDBName(uri)
	if dbName == "" {
		dbName = fallbackDB
	}

	db := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		dbName:   dbName,
	}

	log.Printf("✅ Connected to MongoDB database: %s", dbName)

	return db, nil
}

// extractDBName returns the path component of a MongoDB URI:
// mongodb://localhost:27017/todos?authSource=admin -> todos
func extractDBName(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i != -1 {
		rest = rest[i+3:]
	}
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return ""
	}
	name := rest[slash+1:]
	if q := strings.Index(name, "?"); q != -1 {
		name = name[:q]
	}
	return name
}

// Initialize creates indexes for the registry and run history.
func (m *MongoDB) Initialize(ctx context.Context) error {
	log.Println("📦 Initializing MongoDB indexes...")

	if err := m.createIndexes(ctx, CollectionUsers, []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "enabled", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionRuns, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userKey", Value: 1}, {Key: "startedAt", Value: -1}}},
		{Keys: bson.D{{Key: "runId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "finishedAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32(runHistoryTTL.Seconds()))},
	}); err != nil {
		return fmt.Errorf("failed to create runs indexes: %w", err)
	}

	log.Println("✅ MongoDB indexes ready")
	return nil
}

func (m *MongoDB) createIndexes(ctx context.Context, collectionName string, indexes []mongo.IndexModel) error {
	collection := m.database.Collection(collectionName)
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Collection returns a collection handle
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("🔌 Closing MongoDB connection...")
	return m.client.Disconnect(ctx)
}

// Ping checks if the database connection is alive
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}
