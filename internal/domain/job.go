package domain

import "time"

// JobType identifies the kind of extraction a job performs.
type JobType string

const (
	// JobTypeFull re-runs every extraction phase for a store.
	JobTypeFull JobType = "full"
)

// ExtractionJob represents one attempt to synchronize a store and its progress metadata.
type ExtractionJob struct {
	ID              string     `gorm:"type:text;primaryKey" json:"id"`
	StoreID         string     `gorm:"type:text;not null;index:idx_extraction_jobs_store" json:"store_id"`
	JobType         JobType    `gorm:"type:text;not null;default:full" json:"job_type"`
	Status          SyncStatus `gorm:"type:text;not null;default:pending;index:idx_extraction_jobs_status" json:"status"`
	Progress        int        `gorm:"not null;default:0" json:"progress"`
	ProgressMessage string     `gorm:"type:text" json:"progress_message,omitempty"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ExtractionJob.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ExtractionJob) TableName() string {
	return "extraction_jobs"
}

// JobStatusView is what status polling returns to collaborators.
type JobStatusView struct {
	JobID           string     `json:"job_id"`
	StoreID         string     `json:"store_id"`
	Status          SyncStatus `json:"status"`
	Progress        int        `json:"progress"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Attempts        int        `json:"attempts"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Store           StoreRef   `json:"store"`
}

// StoreRef is the store summary embedded in a JobStatusView.
type StoreRef struct {
	StoreURL  string   `json:"store_url"`
	StoreName string   `json:"store_name,omitempty"`
	Platform  Platform `json:"platform"`
}
