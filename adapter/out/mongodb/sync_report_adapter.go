package mongodb

import (
	"context"
	"fmt"
	"time"

	"sync_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Cycle Report Adapter
// =============================================================================

const (
	collectionCycleReports = "sync_cycle_reports"

	// Reports are support material, not system of record.
	reportRetention = 30 * 24 * time.Hour
)

// ReportAdapter implements out.ReportRepository using MongoDB.
type ReportAdapter struct {
	collection *mongo.Collection
}

// NewReportAdapter creates a new MongoDB cycle report adapter.
func NewReportAdapter(db *mongo.Database) *ReportAdapter {
	return &ReportAdapter{collection: db.Collection(collectionCycleReports)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *ReportAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "cycle_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "finished_at", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type cycleReportDocument struct {
	CycleID    string    `bson:"cycle_id"`
	UserID     string    `bson:"user_id"`
	StartedAt  time.Time `bson:"started_at"`
	FinishedAt time.Time `bson:"finished_at"`

	TotalItems int `bson:"total_items"`
	Completed  int `bson:"completed"`
	Retried    int `bson:"retried"`
	Failed     int `bson:"failed"`
	Conflicts  int `bson:"conflicts"`

	ExpiresAt time.Time `bson:"expires_at"`
}

// =============================================================================
// Operations
// =============================================================================

// Save archives a cycle report.
func (a *ReportAdapter) Save(ctx context.Context, report *out.SyncCycleReport) error {
	doc := &cycleReportDocument{
		CycleID:    report.CycleID,
		UserID:     report.UserID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		TotalItems: report.TotalItems,
		Completed:  report.Completed,
		Retried:    report.Retried,
		Failed:     report.Failed,
		Conflicts:  report.Conflicts,
		ExpiresAt:  report.FinishedAt.Add(reportRetention),
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"cycle_id": report.CycleID}

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save cycle report: %w", err)
	}
	return nil
}

// GetRecentByUser returns the user's most recent cycle reports, newest first.
func (a *ReportAdapter) GetRecentByUser(ctx context.Context, userID string, limit int) ([]*out.SyncCycleReport, error) {
	if limit <= 0 {
		limit = 20
	}

	filter := bson.M{"user_id": userID}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "finished_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycle reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []*out.SyncCycleReport
	for cursor.Next(ctx) {
		var doc cycleReportDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode cycle report: %w", err)
		}
		reports = append(reports, &out.SyncCycleReport{
			CycleID:    doc.CycleID,
			UserID:     doc.UserID,
			StartedAt:  doc.StartedAt,
			FinishedAt: doc.FinishedAt,
			TotalItems: doc.TotalItems,
			Completed:  doc.Completed,
			Retried:    doc.Retried,
			Failed:     doc.Failed,
			Conflicts:  doc.Conflicts,
		})
	}
	return reports, cursor.Err()
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.ReportRepository = (*ReportAdapter)(nil)
