package domain

import "time"

// BulkImportStatus enumerates the lifecycle of a bulk import batch.
// The lifecycle is purely additive: counters only ever increase.
type BulkImportStatus string

const (
	ImportPending    BulkImportStatus = "pending"
	ImportProcessing BulkImportStatus = "processing"
	ImportCompleted  BulkImportStatus = "completed"
	ImportFailed     BulkImportStatus = "failed"
)

// BulkImportJob aggregates counters over a batch of produced EmailJobs.
// The batch consumes the same dispatcher as individually created jobs.
type BulkImportJob struct {
	ID         string           `json:"id" db:"id"`
	CampaignID string           `json:"campaign_id" db:"campaign_id"`
	Status     BulkImportStatus `json:"status" db:"status"`
	Total      int              `json:"total" db:"total"`
	Processed  int              `json:"processed" db:"processed"`
	Successful int              `json:"successful" db:"successful"`
	Failed     int              `json:"failed" db:"failed"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" db:"updated_at"`
}
