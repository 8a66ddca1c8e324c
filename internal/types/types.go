package types

import "time"

// BoundingBox is an absolute pixel rectangle around a detected face.
// Xmax and Ymax are always Xmin+Width and Ymin+Height.
type BoundingBox struct {
	Xmin   int     `json:"xmin"`
	Ymin   int     `json:"ymin"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Xmax   int     `json:"xmax"`
	Ymax   int     `json:"ymax"`
	Score  float64 `json:"score"`
}

// NewBoundingBox builds a box from its origin and size and derives the max corner.
func NewBoundingBox(xmin, ymin, width, height int, score float64) BoundingBox {
	return BoundingBox{
		Xmin:   xmin,
		Ymin:   ymin,
		Width:  width,
		Height: height,
		Xmax:   xmin + width,
		Ymax:   ymin + height,
		Score:  score,
	}
}

// Clamp fits the box inside a frame of the given size. Negative origins shrink
// the box, max corners are capped at the frame edge. The second return value
// is false when nothing of the box is left inside the frame.
func (b BoundingBox) Clamp(frameWidth, frameHeight int) (BoundingBox, bool) {
	if b.Xmin < 0 {
		b.Width += b.Xmin
		b.Xmin = 0
	}
	if b.Ymin < 0 {
		b.Height += b.Ymin
		b.Ymin = 0
	}
	b.Xmax = b.Xmin + b.Width
	b.Ymax = b.Ymin + b.Height
	if b.Xmax > frameWidth {
		b.Xmax = frameWidth
		b.Width = b.Xmax - b.Xmin
	}
	if b.Ymax > frameHeight {
		b.Ymax = frameHeight
		b.Height = b.Ymax - b.Ymin
	}
	if b.Width <= 0 || b.Height <= 0 {
		return b, false
	}
	return b, true
}

// Keypoint is a facial landmark in absolute pixels.
type Keypoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DetectedFace is one detector hit for a single frame. Faces are recomputed
// every frame and their index in the slice is only meaningful for that frame.
type DetectedFace struct {
	BBox      BoundingBox      `json:"bbox"`
	Keypoints map[int]Keypoint `json:"keypoints"`
	Score     float64          `json:"score"`
}

// SelectedFaces lists the per-frame detection indices to redact.
// A nil value means every detected face; an empty, non-nil value means none.
type SelectedFaces []int

// FaceData is a detection as reported to clients.
type FaceData struct {
	DetectedFace
	FaceID int `json:"face_id"`
}

// DetectionData is the structured metadata returned with every processed frame.
type DetectionData struct {
	Faces     []FaceData `json:"faces"`
	FrameID   int        `json:"frame_id"`
	Timestamp float64    `json:"timestamp"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
}

// NewDetectionData numbers faces in detector order and stamps the frame.
func NewDetectionData(faces []DetectedFace, frameID, width, height int, at time.Time) DetectionData {
	out := make([]FaceData, 0, len(faces))
	for i, f := range faces {
		out = append(out, FaceData{DetectedFace: f, FaceID: i})
	}
	return DetectionData{
		Faces:     out,
		FrameID:   frameID,
		Timestamp: float64(at.UnixNano()) / float64(time.Second),
		Width:     width,
		Height:    height,
	}
}

// JobStatus is the lifecycle state of a batch run.
type JobStatus string

const (
	StatusIdle       JobStatus = "idle"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// Terminal reports whether no further updates will follow.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ProcessingStatus tracks one batch run.
type ProcessingStatus struct {
	Status                 JobStatus `json:"status"`
	Progress               float64   `json:"progress"`
	FramesProcessed        int       `json:"frames_processed"`
	TotalFrames            int       `json:"total_frames"`
	ElapsedTime            float64   `json:"elapsed_time"`
	EstimatedTimeRemaining float64   `json:"estimated_time_remaining"`
	ErrorMessage           *string   `json:"error_message"`
}

// VideoInfo is static metadata for a video file.
type VideoInfo struct {
	Path        string  `json:"path"`
	Filename    string  `json:"filename"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	FrameCount  int     `json:"frame_count"`
	Duration    int     `json:"duration"`
	DurationStr string  `json:"duration_str"`
	Format      string  `json:"format"`
}

// Webcam describes a capture device found on the host.
type Webcam struct {
	DeviceID int     `json:"device_id"`
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
}

// Job is a persisted batch run.
type Job struct {
	ID             string           `json:"id"`
	InputPath      string           `json:"input_path"`
	OutputPath     string           `json:"output_path"`
	DrawDetections bool             `json:"draw_detections"`
	Status         ProcessingStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
