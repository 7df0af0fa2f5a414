package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"aegis/core"
)

// TimelineCursor interface for mocking
type TimelineCursor interface {
	All(ctx context.Context, results interface{}) error
	Close(ctx context.Context) error
	Err() error
	Next(ctx context.Context) bool
	Decode(v interface{}) error
}

// TimelineCollection interface for mocking
type TimelineCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (TimelineCursor, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// mongoTimelineCursor adapts *mongo.Cursor to TimelineCursor
type mongoTimelineCursor struct {
	*mongo.Cursor
}

func (m *mongoTimelineCursor) All(ctx context.Context, results interface{}) error {
	return m.Cursor.All(ctx, results)
}

func (m *mongoTimelineCursor) Close(ctx context.Context) error {
	return m.Cursor.Close(ctx)
}

func (m *mongoTimelineCursor) Err() error {
	return m.Cursor.Err()
}

func (m *mongoTimelineCursor) Next(ctx context.Context) bool {
	return m.Cursor.Next(ctx)
}

func (m *mongoTimelineCursor) Decode(v interface{}) error {
	return m.Cursor.Decode(v)
}

// mongoTimelineCollection adapts *mongo.Collection to TimelineCollection
type mongoTimelineCollection struct {
	*mongo.Collection
}

func (m *mongoTimelineCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (TimelineCursor, error) {
	cursor, err := m.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoTimelineCursor{Cursor: cursor}, nil
}

// MongoDB holds the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoDB creates a new MongoDB connection
func NewMongoDB(uri, dbName string, maxPoolSize uint64, logger *zap.SugaredLogger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB successfully")

	return &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
	}, nil
}

// HealthCheck performs a health check on the MongoDB connection
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// MongoTimelineStore persists alert timelines in MongoDB. It offers the same
// surface as the SQLite timeline tables so deployments that already run
// MongoDB can keep long-lived investigation history there instead.
type MongoTimelineStore struct {
	mongoDB *MongoDB
	Coll    TimelineCollection
	logger  *zap.SugaredLogger
}

// NewMongoTimelineStore creates a timeline store on the timeline_events
// collection and ensures its indexes.
func NewMongoTimelineStore(mongoDB *MongoDB, logger *zap.SugaredLogger) (*MongoTimelineStore, error) {
	if mongoDB == nil {
		panic("mongoDB is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	coll := mongoDB.Database.Collection("timeline_events")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "alertId", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "organizationId", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create timeline indexes: %w", err)
	}

	return &MongoTimelineStore{
		mongoDB: mongoDB,
		Coll:    &mongoTimelineCollection{Collection: coll},
		logger:  logger,
	}, nil
}

// AddTimelineEvent appends an event to an alert's timeline.
func (mts *MongoTimelineStore) AddTimelineEvent(ctx context.Context, event *core.TimelineEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid timeline event: %w", err)
	}

	_, err := mts.Coll.InsertOne(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to add timeline event: %w", err)
	}
	return nil
}

// GetTimeline returns an alert's timeline in chronological order.
func (mts *MongoTimelineStore) GetTimeline(ctx context.Context, alertID, organizationID string) ([]core.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})

	filter := bson.M{"alertId": alertID, "organizationId": organizationID}
	cursor, err := mts.Coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	defer cursor.Close(ctx)

	events := make([]core.TimelineEvent, 0)
	for cursor.Next(ctx) {
		var event core.TimelineEvent
		if err := cursor.Decode(&event); err != nil {
			return nil, fmt.Errorf("failed to decode timeline event: %w", err)
		}
		events = append(events, event)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return events, nil
}

// DeleteTimelineEvent removes a single event from an alert's timeline.
func (mts *MongoTimelineStore) DeleteTimelineEvent(ctx context.Context, eventID, alertID, organizationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filter := bson.M{"_id": eventID, "alertId": alertID, "organizationId": organizationID}
	result, err := mts.Coll.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete timeline event: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrTimelineEventNotFound
	}
	return nil
}

// CountTimelineEvents returns the number of timeline events for an organization.
func (mts *MongoTimelineStore) CountTimelineEvents(ctx context.Context, organizationID string) (int64, error) {
	count, err := mts.Coll.CountDocuments(ctx, bson.M{"organizationId": organizationID})
	if err != nil {
		return 0, fmt.Errorf("failed to count timeline events: %w", err)
	}
	return count, nil
}

// CleanupOldEvents deletes timeline events older than the retention period.
func (mts *MongoTimelineStore) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	filter := bson.M{"timestamp": bson.M{"$lt": cutoff}}

	result, err := mts.Coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old timeline events: %w", err)
	}

	if result.DeletedCount > 0 {
		mts.logger.Infof("Deleted %d old timeline events", result.DeletedCount)
	}
	return result.DeletedCount, nil
}
