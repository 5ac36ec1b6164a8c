package out

import (
	"context"
	"time"
)

// SyncCycleReport summarizes one dispatch cycle for a user. Reports are
// archived for support and trend inspection, not read on the hot path.
type SyncCycleReport struct {
	CycleID    string    `bson:"cycle_id" json:"cycle_id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	StartedAt  time.Time `bson:"started_at" json:"started_at"`
	FinishedAt time.Time `bson:"finished_at" json:"finished_at"`

	TotalItems int `bson:"total_items" json:"total_items"`
	Completed  int `bson:"completed" json:"completed"`
	Retried    int `bson:"retried" json:"retried"`
	Failed     int `bson:"failed" json:"failed"`
	Conflicts  int `bson:"conflicts" json:"conflicts"`
}

// ReportRepository - archive of sync cycle reports.
type ReportRepository interface {
	Save(ctx context.Context, report *SyncCycleReport) error
	GetRecentByUser(ctx context.Context, userID string, limit int) ([]*SyncCycleReport, error)
}
