package vidsync

// Video is the server-side video entity as returned by the entity endpoint
// and, on completion, inside a chunk response.
type Video struct {
	ID           string  `json:"video_id"`
	Title        string  `json:"title,omitempty"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status,omitempty"`
	FileSize     float64 `json:"file_size,omitempty"`
	FileSizeUnit string  `json:"file_size_unit,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
}

// Video statuses reported by the server.
const (
	StatusDownloading = "downloading"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// ProgressUpdate is one partial view of a video's job state. The same shape
// arrives as a "progress_update" push message, as a per-video status query
// response and as an element of the active-set snapshot. All fields except
// VideoID are optional: a nil field means "no news", never "reset".
type ProgressUpdate struct {
	Type               string   `json:"type,omitempty"`
	VideoID            string   `json:"video_id"`
	VideoStatus        *string  `json:"video_status,omitempty"`
	DownloadProgress   *float64 `json:"download_progress,omitempty"`
	ProcessingProgress *float64 `json:"processing_progress,omitempty"`
	ProcessingStage    *string  `json:"processing_stage,omitempty"`
	ProcessingMessage  *string  `json:"processing_message,omitempty"`
	FileSize           *float64 `json:"file_size,omitempty"`
	FileSizeUnit       *string  `json:"file_size_unit,omitempty"`
	TotalSize          *float64 `json:"total_size,omitempty"`
}

// LogUpdate is a "log_update" push message: one log line produced by the
// background job of a video.
type LogUpdate struct {
	Type    string `json:"type,omitempty"`
	VideoID string `json:"video_id"`
	Message string `json:"message"`
}
