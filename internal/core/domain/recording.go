package domain

import "time"

// RecordingSession describes one local recording file. It is created when the
// first frame is accepted and finalized exactly once.
type RecordingSession struct {
	ID           string     `json:"id"`
	SessionCode  string     `json:"session_code,omitempty"`
	OutputPath   string     `json:"output_path"`
	StartedAt    time.Time  `json:"started_at"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	BitrateUsed  uint       `json:"bitrate_used"`
	ImageQuality float64    `json:"image_quality"`
	FrameCount   uint64     `json:"frame_count"`
	Duration     float64    `json:"duration_seconds"`

	// Set once the manifest has been written.
	ManifestPath string `json:"-"`
}

// Files lists the files that make up a finalized recording.
func (r *RecordingSession) Files() []string {
	if r == nil || r.OutputPath == "" {
		return nil
	}
	files := []string{r.OutputPath}
	if r.ManifestPath != "" {
		files = append(files, r.ManifestPath)
	}
	return files
}

func (r *RecordingSession) Finalized() bool {
	return r != nil && r.FinalizedAt != nil
}
