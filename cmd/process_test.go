package cmd

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/TomSft15/BlurFace/internal/types"
)

func TestValidateProcessFlags(t *testing.T) {
	// Create a temp file for valid input
	tmpFile, err := os.CreateTemp("", "video.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	// Create a temp dir for invalid input
	tmpDir := t.TempDir()

	valid := func() ProcessOptions {
		return ProcessOptions{
			InputPath:      tmpFile.Name(),
			Method:         "gaussian",
			Intensity:      35,
			MinConfidence:  0.5,
			ModelSelection: 1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(o *ProcessOptions)
		wantErr bool
	}{
		{name: "Valid options", mutate: func(o *ProcessOptions) {}},
		{name: "Explicit output", mutate: func(o *ProcessOptions) { o.OutputPath = filepath.Join(tmpDir, "out.mp4") }},
		{name: "Input file does not exist", mutate: func(o *ProcessOptions) { o.InputPath = "nonexistent.mp4" }, wantErr: true},
		{name: "Input is directory", mutate: func(o *ProcessOptions) { o.InputPath = tmpDir }, wantErr: true},
		{name: "Output overwrites input", mutate: func(o *ProcessOptions) { o.OutputPath = tmpFile.Name() }, wantErr: true},
		{name: "Unknown method", mutate: func(o *ProcessOptions) { o.Method = "swirl" }, wantErr: true},
		{name: "Invalid confidence", mutate: func(o *ProcessOptions) { o.MinConfidence = 1.5 }, wantErr: true},
		{name: "Invalid model selection", mutate: func(o *ProcessOptions) { o.ModelSelection = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Redirect stderr to discard output during this specific sub-test
			oldStderr := os.Stderr
			r, w, _ := os.Pipe()
			os.Stderr = w

			opts := valid()
			tt.mutate(&opts)
			if err := validateProcessFlags(&opts); (err != nil) != tt.wantErr {
				t.Errorf("validateProcessFlags() error = %v, wantErr %v", err, tt.wantErr)
			}

			// Restore stderr and close the pipe
			w.Close()
			os.Stderr = oldStderr
			r.Close()
		})
	}
}

func TestValidateProcessFlagsClampsIntensity(t *testing.T) {
	input := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := ProcessOptions{InputPath: input, Method: "pixelate", Intensity: 0, MinConfidence: 0.5, ModelSelection: 0}
	if err := validateProcessFlags(&opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Intensity != 1 {
		t.Errorf("Intensity = %d, want 1", opts.Intensity)
	}
}

func TestParseFaces(t *testing.T) {
	tests := []struct {
		in      string
		want    types.SelectedFaces
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "none", want: types.SelectedFaces{}},
		{in: "0", want: types.SelectedFaces{0}},
		{in: " 2, 0 ,5", want: types.SelectedFaces{2, 0, 5}},
		{in: "1,x", wantErr: true},
		{in: "-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFaces(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFaces(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseFaces(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
			// nil (all faces) and empty (no face) must stay distinct.
			if (got == nil) != (tt.want == nil) {
				t.Errorf("parseFaces(%q) nil-ness = %v, want %v", tt.in, got == nil, tt.want == nil)
			}
		})
	}
}
