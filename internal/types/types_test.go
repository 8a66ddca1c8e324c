package types

import (
	"math"
	"testing"
	"time"
)

func TestBoundingBoxClamp(t *testing.T) {
	tests := []struct {
		name   string
		box    BoundingBox
		w, h   int
		want   BoundingBox
		wantOK bool
	}{
		{
			name:   "Inside frame",
			box:    NewBoundingBox(10, 10, 20, 20, 0.9),
			w:      100,
			h:      100,
			want:   NewBoundingBox(10, 10, 20, 20, 0.9),
			wantOK: true,
		},
		{
			name:   "Negative xmin shrinks width",
			box:    NewBoundingBox(-5, 0, 10, 10, 0.9),
			w:      100,
			h:      100,
			want:   NewBoundingBox(0, 0, 5, 10, 0.9),
			wantOK: true,
		},
		{
			name:   "Negative ymin shrinks height",
			box:    NewBoundingBox(0, -3, 10, 10, 0.5),
			w:      100,
			h:      100,
			want:   NewBoundingBox(0, 0, 10, 7, 0.5),
			wantOK: true,
		},
		{
			name:   "Overflow capped at frame edge",
			box:    NewBoundingBox(90, 95, 20, 20, 0.5),
			w:      100,
			h:      100,
			want:   NewBoundingBox(90, 95, 10, 5, 0.5),
			wantOK: true,
		},
		{
			name:   "Fully left of frame",
			box:    NewBoundingBox(-20, 0, 10, 10, 0.5),
			w:      100,
			h:      100,
			wantOK: false,
		},
		{
			name:   "Starts past right edge",
			box:    NewBoundingBox(120, 0, 10, 10, 0.5),
			w:      100,
			h:      100,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.box.Clamp(tt.w, tt.h)
			if ok != tt.wantOK {
				t.Fatalf("Clamp() ok = %v, want %v (got %+v)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
			if ok && (got.Xmax != got.Xmin+got.Width || got.Ymax != got.Ymin+got.Height) {
				t.Errorf("max corner inconsistent: %+v", got)
			}
		})
	}
}

func TestNewDetectionData(t *testing.T) {
	faces := []DetectedFace{
		{BBox: NewBoundingBox(0, 0, 1, 1, 0.7), Score: 0.7},
		{BBox: NewBoundingBox(5, 5, 2, 2, 0.8), Score: 0.8},
	}
	at := time.Unix(1700000000, 500000000)
	d := NewDetectionData(faces, 42, 640, 480, at)

	if len(d.Faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(d.Faces))
	}
	for i, f := range d.Faces {
		if f.FaceID != i {
			t.Errorf("face %d has id %d", i, f.FaceID)
		}
	}
	if d.FrameID != 42 || d.Width != 640 || d.Height != 480 {
		t.Errorf("unexpected frame metadata: %+v", d)
	}
	if math.Abs(d.Timestamp-1700000000.5) > 1e-3 {
		t.Errorf("Timestamp = %v, want 1700000000.5", d.Timestamp)
	}

	empty := NewDetectionData(nil, 1, 10, 10, at)
	if empty.Faces == nil || len(empty.Faces) != 0 {
		t.Errorf("expected empty non-nil face list, got %#v", empty.Faces)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for s, want := range map[JobStatus]bool{
		StatusIdle:       false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusError:      true,
	} {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}
