// Package queue defines message payloads exchanged over the message broker.
package queue

// MigrationCompletedEvent is published when an import run finishes or
// fails terminally. It carries enough information for downstream
// consumers to log, notify, or trigger analytics without querying the
// primary database.
type MigrationCompletedEvent struct {
    RunID        string `json:"run_id"`
    Status       string `json:"status"` // completed | failed
    Total        int    `json:"total"`
    SuccessCount int    `json:"success_count"`
    ErrorCount   int    `json:"error_count"`
    PasswordMode string `json:"password_mode"`
    FileName     string `json:"file_name"`
    StartedAt    string `json:"started_at"`
    FinishedAt   string `json:"finished_at"`
}
