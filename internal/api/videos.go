package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TomSft15/BlurFace/internal/jobs"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/google/uuid"
)

type statusResponse struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	Timestamp float64 `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    "online",
		Version:   s.cfg.Version,
		Timestamp: float64(s.cfg.Now().UnixNano()) / float64(time.Second),
	})
}

type webcamsResponse struct {
	Webcams []types.Webcam `json:"webcams"`
}

func (s *Server) handleWebcams(w http.ResponseWriter, r *http.Request) {
	cams := s.cfg.Videos.ListWebcams(r.Context())
	if cams == nil {
		cams = []types.Webcam{}
	}
	writeJSON(w, http.StatusOK, webcamsResponse{Webcams: cams})
}

type videoInfoRequest struct {
	FilePath string `json:"file_path"`
}

func (s *Server) handleVideoInfo(w http.ResponseWriter, r *http.Request) {
	var req videoInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "invalid file path")
		return
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		writeError(w, http.StatusBadRequest, "invalid file path")
		return
	}
	info, err := s.cfg.Videos.Info(r.Context(), req.FilePath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read video: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	FilePath string `json:"file_path"`
	Filename string `json:"filename"`
}

// handleUpload stores a multipart "file" field under the temp directory with
// a unique prefix so concurrent uploads of the same name do not collide.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	src, hdr, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer src.Close()

	name := filepath.Base(hdr.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload.mp4"
	}
	name = uuid.NewString()[:8] + "_" + name

	if err := os.MkdirAll(s.cfg.TempDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "cannot create upload directory")
		return
	}
	path := filepath.Join(s.cfg.TempDir, name)
	dst, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		writeError(w, http.StatusBadRequest, "upload interrupted")
		return
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		writeError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}

	s.log.Info("video uploaded", "path", path, "size", hdr.Size)
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, FilePath: path, Filename: name})
}

type processResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"job_id"`
	Job     types.Job `json:"job"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := s.cfg.Jobs.Submit(req)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, processResponse{Success: true, JobID: job.ID, Job: job})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := filepath.Join(s.cfg.OutputDir, name)
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}
