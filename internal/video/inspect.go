package video

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/TomSft15/BlurFace/internal/utils"
)

// Inspector reads stream metadata with ffprobe.
type Inspector struct {
	FFprobe string
	Log     *slog.Logger
}

type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		Duration      string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// streamInfo is what the pipeline needs from the first video stream.
type streamInfo struct {
	Width, Height int
	FPS           float64
	FrameCount    int
	Duration      float64
}

func (p Inspector) bin() string {
	if p.FFprobe == "" {
		return "ffprobe"
	}
	return p.FFprobe
}

func (p Inspector) logger() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}

// Info returns static metadata for a video file.
func (p Inspector) Info(ctx context.Context, path string) (types.VideoInfo, error) {
	si, err := p.inspectFile(ctx, path)
	if err != nil {
		return types.VideoInfo{}, err
	}
	duration := si.Duration
	if duration <= 0 && si.FPS > 0 {
		duration = float64(si.FrameCount) / si.FPS
	}
	abs, _ := filepath.Abs(path)
	return types.VideoInfo{
		Path:        abs,
		Filename:    filepath.Base(path),
		Width:       si.Width,
		Height:      si.Height,
		FPS:         si.FPS,
		FrameCount:  si.FrameCount,
		Duration:    int(duration),
		DurationStr: utils.FormatDuration(duration),
		Format:      strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), ".")),
	}, nil
}

func (p Inspector) inspectFile(ctx context.Context, path string) (streamInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return streamInfo{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	cmd := utils.NewSafeCommand(ctx, p.bin(), "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration",
		"-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return streamInfo{}, fmt.Errorf("%w: ffprobe %s: %v: %s", ErrSourceUnavailable, path, err, strings.TrimSpace(cmd.Logs()))
	}
	si, err := parseStreamInfo(out)
	if err != nil {
		return streamInfo{}, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
	}
	if si.FrameCount <= 0 {
		si.FrameCount = p.countFrames(ctx, path)
	}
	return si, nil
}

// inspectDevice reads the native mode of a capture device.
func (p Inspector) inspectDevice(ctx context.Context, device string) (streamInfo, error) {
	cmd := utils.NewSafeCommand(ctx, p.bin(), "-v", "error", "-f", "v4l2",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate", "-of", "json", device)
	out, err := cmd.Output()
	if err != nil {
		return streamInfo{}, fmt.Errorf("%w: ffprobe %s: %v", ErrSourceUnavailable, device, err)
	}
	return parseStreamInfo(out)
}

// countFrames is the slow path for containers without a frame count: it
// counts packets. It returns 0 when counting fails.
func (p Inspector) countFrames(ctx context.Context, path string) int {
	p.logger().Info("frame count missing from metadata, counting packets", "path", path)
	cmd := utils.NewSafeCommand(ctx, p.bin(), "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		p.logger().Warn("ffprobe packet count failed", "path", path, "error", err)
		return 0
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(res.Streams[0].NbReadPackets)
	return n
}

func parseStreamInfo(data []byte) (streamInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(data, &res); err != nil {
		return streamInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return streamInfo{}, fmt.Errorf("no video stream found")
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return streamInfo{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}

	fps := parseFrameRate(s.RFrameRate)
	if fps <= 0 {
		fps = parseFrameRate(s.AvgFrameRate)
	}
	frames, _ := strconv.Atoi(s.NbFrames)
	duration, err := strconv.ParseFloat(res.Format.Duration, 64)
	if err != nil {
		duration, _ = strconv.ParseFloat(s.Duration, 64)
	}
	return streamInfo{
		Width:      s.Width,
		Height:     s.Height,
		FPS:        fps,
		FrameCount: frames,
		Duration:   duration,
	}, nil
}

// parseFrameRate reads ffprobe rates such as "30000/1001" or "25". It returns
// 0 for unknown rates.
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
