package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	"github.com/pradum97/jsondeck-sub000/internal/storage"
)

type Storage struct {
	client        *mongo.Client
	database      *mongo.Database
	users         *mongo.Collection
	counters      *mongo.Collection
	tokens        *mongo.Collection
	subscriptions *mongo.Collection
}

type userDoc struct {
	ID        int64     `bson:"_id"`
	Email     string    `bson:"email"`
	PassHash  []byte    `bson:"pass_hash"`
	PassSalt  []byte    `bson:"pass_salt"`
	Roles     []string  `bson:"roles"`
	CreatedAt time.Time `bson:"created_at"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

type refreshTokenDoc struct {
	TokenHash      string     `bson:"token_hash"`
	UserID         int64      `bson:"user_id"`
	CreatedAt      time.Time  `bson:"created_at"`
	ExpiresAt      time.Time  `bson:"expires_at"`
	RevokedAt      *time.Time `bson:"revoked_at,omitempty"`
	ReplacedByHash *string    `bson:"replaced_by_hash,omitempty"`
}

type subscriptionDoc struct {
	UserID           int64      `bson:"_id"`
	Status           string     `bson:"status"`
	PlanCode         string     `bson:"plan_code"`
	Seats            int        `bson:"seats"`
	CurrentPeriodEnd *time.Time `bson:"current_period_end,omitempty"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:        client,
		database:      db,
		users:         db.Collection("users"),
		counters:      db.Collection("counters"),
		tokens:        db.Collection("refresh_tokens"),
		subscriptions: db.Collection("subscriptions"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	// users.email unique
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email index: %w", err)
	}

	// refresh_tokens.token_hash unique
	_, err = s.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "token_hash", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens.token_hash index: %w", err)
	}

	// refresh_tokens.expires_at TTL index. Expired records are swept
	// out-of-band by the server; the request path never relies on it.
	_, err = s.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens.expires_at TTL index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// nextID atomically increments and returns the next ID for a given collection.
func (s *Storage) nextID(ctx context.Context, collectionName string) (int64, error) {
	filter := bson.D{{Key: "_id", Value: collectionName}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter counterDoc
	err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// SaveUser saves a new user and returns the generated user ID.
func (s *Storage) SaveUser(ctx context.Context, email string, passHash []byte, passSalt []byte) (int64, error) {
	const op = "storage.mongodb.SaveUser"

	id, err := s.nextID(ctx, "users")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	doc := userDoc{
		ID:        id,
		Email:     email,
		PassHash:  passHash,
		PassSalt:  passSalt,
		Roles:     []string{string(models.TierFree)},
		CreatedAt: time.Now(),
	}

	_, err = s.users.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// User retrieves a user by email.
func (s *Storage) User(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.mongodb.User"

	var doc userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "email", Value: email}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.toModel(), nil
}

// UserByID retrieves a user by ID.
func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.mongodb.UserByID"

	var doc userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.toModel(), nil
}

func (d *userDoc) toModel() *models.User {
	return &models.User{
		ID:       d.ID,
		Email:    d.Email,
		PassHash: d.PassHash,
		PassSalt: d.PassSalt,
		Roles:    d.Roles,
	}
}

// SaveRefreshToken stores a new refresh token hash as an active record.
func (s *Storage) SaveRefreshToken(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	const op = "storage.mongodb.SaveRefreshToken"

	doc := refreshTokenDoc{
		TokenHash: tokenHash,
		UserID:    userID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	_, err := s.tokens.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshToken retrieves a refresh token record by its hash.
func (s *Storage) RefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const op = "storage.mongodb.RefreshToken"

	var doc refreshTokenDoc
	err := s.tokens.FindOne(ctx, bson.D{{Key: "token_hash", Value: tokenHash}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.RefreshToken{
		TokenHash:      doc.TokenHash,
		UserID:         doc.UserID,
		CreatedAt:      doc.CreatedAt,
		ExpiresAt:      doc.ExpiresAt,
		RevokedAt:      doc.RevokedAt,
		ReplacedByHash: doc.ReplacedByHash,
	}, nil
}

// RevokeRefreshToken sets revoked_at on an active record. It does not
// set replaced_by_hash; explicit logout ends the chain.
func (s *Storage) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	const op = "storage.mongodb.RevokeRefreshToken"

	res, err := s.tokens.UpdateOne(ctx,
		activeTokenFilter(tokenHash),
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "revoked_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.ModifiedCount == 0 {
		return s.classifyMissedUpdate(ctx, op, tokenHash)
	}

	return nil
}

// RotateRefreshToken revokes the old token and inserts its successor.
// The revoke is a single conditional update on "not yet revoked": two
// rotations racing on the same parent cannot both pass, the loser gets
// ErrTokenRevoked.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash, newHash string, userID int64, newExpiresAt time.Time) error {
	const op = "storage.mongodb.RotateRefreshToken"

	now := time.Now()

	res, err := s.tokens.UpdateOne(ctx,
		activeTokenFilter(oldHash),
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "revoked_at", Value: now},
			{Key: "replaced_by_hash", Value: newHash},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: revoke old: %w", op, err)
	}
	if res.ModifiedCount == 0 {
		return s.classifyMissedUpdate(ctx, op, oldHash)
	}

	newDoc := refreshTokenDoc{
		TokenHash: newHash,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: newExpiresAt,
	}

	_, err = s.tokens.InsertOne(ctx, newDoc)
	if err != nil {
		return fmt.Errorf("%s: insert new: %w", op, err)
	}

	return nil
}

// SubscriptionByUserID retrieves the billing snapshot for a user.
func (s *Storage) SubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, error) {
	const op = "storage.mongodb.SubscriptionByUserID"

	var doc subscriptionDoc
	err := s.subscriptions.FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Subscription{
		UserID:           doc.UserID,
		Status:           doc.Status,
		PlanCode:         doc.PlanCode,
		Seats:            doc.Seats,
		CurrentPeriodEnd: doc.CurrentPeriodEnd,
	}, nil
}

// SeedSubscription upserts a subscription snapshot (for dev/test).
func (s *Storage) SeedSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.mongodb.SeedSubscription"

	doc := subscriptionDoc{
		UserID:           sub.UserID,
		Status:           sub.Status,
		PlanCode:         sub.PlanCode,
		Seats:            sub.Seats,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		UpdatedAt:        time.Now(),
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.subscriptions.ReplaceOne(ctx, bson.D{{Key: "_id", Value: sub.UserID}}, doc, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// activeTokenFilter matches a token record that has not been revoked yet.
func activeTokenFilter(tokenHash string) bson.D {
	return bson.D{
		{Key: "token_hash", Value: tokenHash},
		{Key: "revoked_at", Value: bson.D{{Key: "$exists", Value: false}}},
	}
}

// classifyMissedUpdate decides whether a conditional update matched
// nothing because the record is gone or because it was already revoked.
func (s *Storage) classifyMissedUpdate(ctx context.Context, op, tokenHash string) error {
	err := s.tokens.FindOne(ctx, bson.D{{Key: "token_hash", Value: tokenHash}}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, storage.ErrTokenRevoked)
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
