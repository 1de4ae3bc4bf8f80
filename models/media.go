package models

import "time"

// MediaKind names an out-of-band results side job.
type MediaKind string

const (
	MediaGIF      MediaKind = "gif"
	MediaDatePlan MediaKind = "date_plan"
)

func (k MediaKind) Valid() bool {
	return k == MediaGIF || k == MediaDatePlan
}

type MediaStatus string

const (
	MediaPending MediaStatus = "pending"
	MediaReady   MediaStatus = "ready"
	MediaFailed  MediaStatus = "failed"
)

// DatePlan is the generated date suggestion for a completed session.
type DatePlan struct {
	DateVibe      string    `json:"dateVibe"`
	Aesthetic     string    `json:"aesthetic"`
	Emoji         string    `json:"emoji"`
	CoupleHashtag string    `json:"coupleHashtag"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// MediaArtifact is layered on top of Results and never changes them.
type MediaArtifact struct {
	Status MediaStatus `json:"status"`
	URL    string      `json:"url,omitempty"`
	Plan   *DatePlan   `json:"plan,omitempty"`
	Error  string      `json:"error,omitempty"`
}
