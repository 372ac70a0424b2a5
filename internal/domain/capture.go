package domain

import "time"

// CaptureRecord is the journal entry kept for one completed capture.
type CaptureRecord struct {
	SubjectID       string    `json:"subject_id"`
	ChatID          string    `json:"chat_id"`
	CapturedAt      time.Time `json:"captured_at"`
	PrimaryRecordID string    `json:"primary_record_id,omitempty"`
	Created         int       `json:"created"`
	Updated         int       `json:"updated"`
	Actions         []string  `json:"actions"`
	MetadataMissing bool      `json:"metadata_missing"`
	ExtractedJSON   string    `json:"extracted_json,omitempty"`
}

// CaptureSummary aggregates a subject's journal.
type CaptureSummary struct {
	SubjectID      string    `json:"subject_id"`
	Captures       int       `json:"captures"`
	LastCapturedAt time.Time `json:"last_captured_at"`
	LastChatID     string    `json:"last_chat_id"`
}
