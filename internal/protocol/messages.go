package protocol

import "time"

// TaskResult is broadcast once per finished synthesis task.
type TaskResult struct {
	BatchID    string    `json:"batch_id"`
	Index      int       `json:"index"`
	OK         bool      `json:"ok"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMS float64   `json:"duration_ms"`
	Bytes      int64     `json:"bytes"`
}

// BatchSummary is broadcast after the last task of a batch has finished.
type BatchSummary struct {
	BatchID   string    `json:"batch_id"`
	Name      string    `json:"name,omitempty"`
	Total     int       `json:"total"`
	OK        int       `json:"ok"`
	Failed    int       `json:"failed"`
	Bytes     uint64    `json:"bytes"`
	WallMS    float64   `json:"wall_ms"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTaskResult   = "speech.batch.result"
	SubjectBatchSummary = "speech.batch.done"
)
