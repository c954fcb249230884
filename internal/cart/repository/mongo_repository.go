package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/craft_market/internal/cart/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	cartsCollection = "carts"
	// abandoned carts expire after 90 days without changes
	cartRetention = 90 * 24 * time.Hour
)

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection(cartsCollection),
	}
}

// EnsureIndexes creates the collection indexes when repo is the Mongo implementation.
func EnsureIndexes(ctx context.Context, repo CartRepository) error {
	m, ok := repo.(*mongoRepository)
	if !ok {
		return nil
	}
	return m.CreateIndexes(ctx)
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cartRetention.Seconds())),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// GetCart returns the most recently updated cart of the user. Legacy data may
// hold more than one cart per user; the unique index prevents new duplicates.
func (m *mongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	var cart domain.Cart
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &cart, nil
}

// UpsertItem sets the quantity of an existing line, keeping its price
// snapshot, or appends the line, creating the cart if there is none.
func (m *mongoRepository) UpsertItem(ctx context.Context, userID string, item domain.CartItem) error {
	now := time.Now().UTC()
	item.AddedAt = now

	for attempt := 0; ; attempt++ {
		updated, err := m.setLineQuantity(ctx, userID, item.ProductID, item.Quantity, now)
		if err != nil {
			return err
		}
		if updated {
			return nil
		}

		err = m.pushLine(ctx, userID, item, now)
		// a concurrent writer created the cart or the line first
		if mongo.IsDuplicateKeyError(err) && attempt == 0 {
			continue
		}
		return err
	}
}

func (m *mongoRepository) setLineQuantity(ctx context.Context, userID, productID string, quantity int, now time.Time) (bool, error) {
	filter := bson.M{"user_id": userID, "items.product_id": productID}
	update := bson.M{
		"$set": bson.M{
			"items.$.quantity": quantity,
			"items.$.added_at": now,
			"updated_at":       now,
		},
	}

	res, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update existing item: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (m *mongoRepository) pushLine(ctx context.Context, userID string, item domain.CartItem, now time.Time) error {
	filter := bson.M{
		"user_id":          userID,
		"items.product_id": bson.M{"$ne": item.ProductID},
	}
	update := bson.M{
		"$push":        bson.M{"items": item},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}

	if _, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return err
		}
		return fmt.Errorf("failed to add new item: %w", err)
	}
	return nil
}

func (m *mongoRepository) UpdateItemQuantity(ctx context.Context, userID string, productID string, quantity int) error {
	updated, err := m.setLineQuantity(ctx, userID, productID, quantity, time.Now().UTC())
	if err != nil {
		return err
	}
	if !updated {
		return ErrItemNotFound
	}
	return nil
}

// RemoveItem succeeds when the item is already gone so retries are safe.
func (m *mongoRepository) RemoveItem(ctx context.Context, userID string, productID string) error {
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}

	res, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

// DeleteCart removes every cart of the user, including legacy duplicates.
func (m *mongoRepository) DeleteCart(ctx context.Context, userID string) error {
	res, err := m.collection.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) DeleteCartUpdatedBefore(ctx context.Context, userID string, before time.Time) error {
	filter := bson.M{
		"user_id":    userID,
		"updated_at": bson.M{"$lte": before.UTC()},
	}
	res, err := m.collection.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}
