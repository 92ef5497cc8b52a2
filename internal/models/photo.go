package models

import "time"

// PhotoJob tracks an asynchronous AI-analysis photo upload. The backend
// answers a submission with a job ID; analysis results arrive later
// through the scan record the job is linked to.
type PhotoJob struct {
	ID          string    `json:"id"`
	ServerJobID string    `json:"server_job_id,omitempty"`
	ScanID      string    `json:"scan_id"`
	FilePath    string    `json:"file_path"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	Synced      bool      `json:"synced"`
}
