package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/claysader-arch/todo-aggregator/internal/crypto"
	"github.com/claysader-arch/todo-aggregator/internal/database"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

var (
	// ErrUserExists is returned when registering a key that is already taken.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidUser is returned when a registration misses required fields.
	ErrInvalidUser = errors.New("invalid user")
)

// UserRegistry lists the people the batch job aggregates for. Returned users
// carry plain-text tokens.
type UserRegistry interface {
	EnabledUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, key string) (*models.User, error)
	RecordRun(ctx context.Context, record models.RunRecord) error
}

// MongoUserRegistry stores users and run history in MongoDB with tokens
// encrypted at rest.
type MongoUserRegistry struct {
	users *mongo.Collection
	runs  *mongo.Collection
	enc   *crypto.EncryptionService
	now   func() time.Time
}

// NewMongoUserRegistry creates a registry on the users and runs collections.
func NewMongoUserRegistry(db *database.MongoDB, enc *crypto.EncryptionService) *MongoUserRegistry {
	return &MongoUserRegistry{
		users: db.Collection(database.CollectionUsers),
		runs:  db.Collection(database.CollectionRuns),
		enc:   enc,
		now:   time.Now,
	}
}

// CreateUser registers a user. A personal token is generated when absent and
// returned in plain text exactly once, on the returned user.
func (r *MongoUserRegistry) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	if u.Key == "" || u.Name == "" || u.NotionDatabaseID == "" {
		return nil, fmt.Errorf("%w: key, name and notionDatabaseId are required", ErrInvalidUser)
	}
	if u.PersonalToken == "" {
		token, err := crypto.GeneratePersonalToken()
		if err != nil {
			return nil, err
		}
		u.PersonalToken = token
	}
	now := r.now()
	u.CreatedAt, u.UpdatedAt = now, now

	sealed, err := r.enc.SealUser(u)
	if err != nil {
		return nil, err
	}
	res, err := r.users.InsertOne(ctx, sealed)
	if mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("%s: %w", u.Key, ErrUserExists)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		u.ID = id
	}
	return &u, nil
}

// ListUsers returns every user with tokens stripped.
func (r *MongoUserRegistry) ListUsers(ctx context.Context) ([]models.User, error) {
	cursor, err := r.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	for i := range users {
		users[i].SlackToken, users[i].GmailRefreshToken, users[i].PersonalToken = "", "", ""
	}
	return users, nil
}

func (r *MongoUserRegistry) EnabledUsers(ctx context.Context) ([]models.User, error) {
	cursor, err := r.users.Find(ctx, bson.M{"enabled": true}, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled users: %w", err)
	}
	var sealed []models.User
	if err := cursor.All(ctx, &sealed); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	users := make([]models.User, 0, len(sealed))
	for _, u := range sealed {
		opened, err := r.enc.OpenUser(u)
		if err != nil {
			return nil, err
		}
		users = append(users, opened)
	}
	return users, nil
}

func (r *MongoUserRegistry) GetUser(ctx context.Context, key string) (*models.User, error) {
	var sealed models.User
	err := r.users.FindOne(ctx, bson.M{"key": key}).Decode(&sealed)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	opened, err := r.enc.OpenUser(sealed)
	if err != nil {
		return nil, err
	}
	return &opened, nil
}

// RecordRun appends to run history and updates the user's last-run fields.
func (r *MongoUserRegistry) RecordRun(ctx context.Context, record models.RunRecord) error {
	if _, err := r.runs.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	_, err := r.users.UpdateOne(ctx, bson.M{"key": record.UserKey}, bson.M{"$set": bson.M{
		"lastRunAt":     record.FinishedAt,
		"lastRunStatus": record.Status,
		"lastRunError":  record.Error,
		"updatedAt":     r.now(),
	}})
	if err != nil {
		return fmt.Errorf("failed to update user run status: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs for a user, newest first.
func (r *MongoUserRegistry) RecentRuns(ctx context.Context, key string, limit int64) ([]models.RunRecord, error) {
	cursor, err := r.runs.Find(ctx, bson.M{"userKey": key},
		options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	var records []models.RunRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}
	return records, nil
}
