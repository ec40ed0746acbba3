package domain

import "time"

const (
	RecordingFileName = "recording.webm"
	RecordingMIMEType = "video/webm"
)

// Artifact is one finished recording, ready to be offered as a download.
type Artifact struct {
	Name      string
	MIMEType  string
	Data      []byte
	Chunks    int
	StartedAt time.Time
	StoppedAt time.Time
}

func (a *Artifact) Size() int { return len(a.Data) }
