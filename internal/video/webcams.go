package video

import (
	"context"
	"fmt"
	"os"

	"github.com/TomSft15/BlurFace/internal/types"
)

// maxWebcams is how many /dev/video nodes are checked.
const maxWebcams = 10

// ListWebcams returns the capture devices that answer a stream query. Missing or busy
// devices are skipped.
func (p Inspector) ListWebcams(ctx context.Context) []types.Webcam {
	return p.listWebcams(ctx, "/dev/video%d", p.inspectDevice)
}

func (p Inspector) listWebcams(ctx context.Context, pattern string, inspect func(context.Context, string) (streamInfo, error)) []types.Webcam {
	cams := []types.Webcam{}
	for i := 0; i < maxWebcams; i++ {
		path := fmt.Sprintf(pattern, i)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		si, err := inspect(ctx, path)
		if err != nil {
			p.logger().Debug("skipping unreadable capture device", "device", path, "error", err)
			continue
		}
		cams = append(cams, types.Webcam{
			DeviceID: i,
			Name:     fmt.Sprintf("Webcam %d", i),
			Path:     path,
			Width:    si.Width,
			Height:   si.Height,
			FPS:      si.FPS,
		})
	}
	return cams
}
