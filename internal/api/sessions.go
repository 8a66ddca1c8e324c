package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/TomSft15/BlurFace/internal/frame"
	"github.com/TomSft15/BlurFace/internal/session"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/TomSft15/BlurFace/internal/video"
)

var qualityPresets = map[string]int{
	"low":    60,
	"medium": 85,
	"high":   95,
}

type createSessionRequest struct {
	SourceType string `json:"source_type"`
	DeviceID   int    `json:"device_id"`
	FilePath   string `json:"file_path"`
}

type createSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	req := createSessionRequest{SourceType: "webcam"}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "no JSON data provided")
		return
	}

	opts := s.cfg.SessionDefaults
	switch req.SourceType {
	case "webcam":
		if req.DeviceID < 0 {
			writeError(w, http.StatusBadRequest, "device_id must not be negative")
			return
		}
		opts.Source = video.WebcamSource(req.DeviceID)
	case "file":
		if req.FilePath == "" {
			writeError(w, http.StatusBadRequest, "file_path is required for file sources")
			return
		}
		opts.Source = video.FileSource(req.FilePath)
	default:
		writeError(w, http.StatusBadRequest, "invalid source type, must be 'webcam' or 'file'")
		return
	}

	sess, err := s.cfg.Sessions.Create(opts)
	if err != nil {
		s.log.Warn("failed to start session", "source", opts.Source.String(), "error", err)
		writeError(w, http.StatusBadRequest, "cannot start video session: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{Success: true, SessionID: sess.ID})
}

type sessionsResponse struct {
	Success  bool           `json:"success"`
	Sessions []session.Info `json:"sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionsResponse{Success: true, Sessions: s.cfg.Sessions.List()})
}

// lookupSession resolves the {id} path value, answering 404 when it is unknown.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.cfg.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Sessions.Close(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) handleBlurSettings(w http.ResponseWriter, r *http.Request) {
	sess, found := s.lookupSession(w, r)
	if !found {
		return
	}

	// Fields are decoded one by one so an explicit null selection (all faces)
	// can be told apart from an absent one.
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var method string
	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &method); err != nil {
			writeError(w, http.StatusBadRequest, "method must be a string")
			return
		}
	}
	var intensity *int
	if raw, ok := fields["intensity"]; ok {
		if err := json.Unmarshal(raw, &intensity); err != nil {
			writeError(w, http.StatusBadRequest, "intensity must be an integer")
			return
		}
	}
	var selected types.SelectedFaces
	raw, hasSelection := fields["selected_faces"]
	if hasSelection {
		if err := json.Unmarshal(raw, &selected); err != nil {
			writeError(w, http.StatusBadRequest, "selected_faces must be a list of integers or null")
			return
		}
	}

	if err := sess.UpdateBlur(method, intensity); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if hasSelection {
		sess.SetSelectedFaces(selected)
	}
	writeJSON(w, http.StatusOK, okResponse)
}

type detectionSettingsRequest struct {
	MinConfidence  *float64 `json:"min_confidence"`
	ModelSelection *int     `json:"model_selection"`
}

func (s *Server) handleDetectionSettings(w http.ResponseWriter, r *http.Request) {
	sess, found := s.lookupSession(w, r)
	if !found {
		return
	}
	var req detectionSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MinConfidence == nil && req.ModelSelection == nil {
		writeJSON(w, http.StatusOK, okResponse)
		return
	}

	// Missing values fall back to the service defaults, not the session's.
	settings := s.cfg.SessionDefaults.Detection
	if req.MinConfidence != nil {
		settings.MinConfidence = *req.MinConfidence
	}
	if req.ModelSelection != nil {
		settings.ModelSelection = *req.ModelSelection
	}
	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.UpdateDetection(settings); err != nil {
		s.log.Error("failed to rebuild detector", "session", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "cannot create detector: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func frameOptions(r *http.Request) session.FrameOptions {
	q := r.URL.Query()
	return session.FrameOptions{
		DrawDetections: boolQuery(q.Get("draw_detections"), false),
		ApplyBlur:      boolQuery(q.Get("apply_blur"), true),
	}
}

func boolQuery(v string, def bool) bool {
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true")
}

// streamSettings reads the optional quality preset and target width.
func (s *Server) streamSettings(r *http.Request) (quality, width int) {
	quality = s.cfg.JPEGQuality
	if q, ok := qualityPresets[strings.ToLower(r.URL.Query().Get("quality"))]; ok {
		quality = q
	}
	width, _ = strconv.Atoi(r.URL.Query().Get("width"))
	return quality, width
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	sess, found := s.lookupSession(w, r)
	if !found {
		return
	}
	img, data, err := sess.NextFrame(frameOptions(r))
	if err != nil {
		s.frameError(w, sess, err)
		return
	}

	quality, width := s.streamSettings(r)
	var buf bytes.Buffer
	if err := frame.EncodeJPEG(&buf, frame.Fit(img, width), quality); err != nil {
		writeError(w, http.StatusInternalServerError, "cannot encode frame")
		return
	}
	meta, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot encode detection data")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Detection-Data", string(meta))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// frameError answers a failed frame request. A detection failure is a server
// error: the frame is withheld rather than served unredacted.
func (s *Server) frameError(w http.ResponseWriter, sess *session.Session, err error) {
	if errors.Is(err, session.ErrDetection) {
		s.log.Error("face detection failed", "session", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "face detection failed")
		return
	}
	writeError(w, http.StatusBadRequest, "cannot read frame")
}

type detectionsResponse struct {
	Success bool `json:"success"`
	types.DetectionData
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	sess, found := s.lookupSession(w, r)
	if !found {
		return
	}
	data, err := sess.Detections()
	if err != nil {
		s.frameError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, detectionsResponse{Success: true, DetectionData: data})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, found := s.lookupSession(w, r)
	if !found {
		return
	}
	opts := frameOptions(r)
	quality, width := s.streamSettings(r)
	// Clients may slow the stream down but never push it past the configured rate.
	fps := s.cfg.StreamFPS
	if v, err := strconv.ParseFloat(r.URL.Query().Get("fps"), 64); err == nil && v > 0 {
		fps = min(v, s.cfg.StreamFPS)
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	var buf bytes.Buffer
	err := session.Stream(r.Context(), sess, s.cfg.NewTicker(fps), opts, func(img *image.RGBA, _ types.DetectionData) error {
		buf.Reset()
		if err := frame.EncodeJPEG(&buf, frame.Fit(img, width), quality); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", buf.Len()); err != nil {
			return err
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
		return rc.Flush()
	})

	switch {
	case errors.Is(err, session.ErrNotRunning):
		s.log.Info("stream ended, session stopped", "session", sess.ID)
	case r.Context().Err() != nil:
		s.log.Debug("stream client disconnected", "session", sess.ID)
	case err != nil:
		s.log.Warn("stream aborted", "session", sess.ID, "error", err)
	}
}
