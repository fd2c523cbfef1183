// Package api exposes settings, run submission and run status over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/pipeline"
	"speaker-notes-go/internal/settings"
	"speaker-notes-go/internal/synthesis"
	"speaker-notes-go/internal/textsource"
	"speaker-notes-go/internal/types"
)

const maxUploadBytes = 512 << 20

// Runner starts pipeline runs; *pipeline.Driver implements it.
type Runner interface {
	StartNotes(ctx context.Context, s settings.Settings, req pipeline.NotesRequest, rep types.Reporter) (pipeline.Run, error)
	StartAudio(ctx context.Context, s settings.Settings, req pipeline.AudioRequest, rep types.Reporter) (pipeline.Run, error)
}

type Handler struct {
	runs      Runner
	settings  *settings.Store
	tracker   *pipeline.Tracker
	uploadDir string
	// runCtx outlives requests; runs keep going after the 202 is sent.
	runCtx   context.Context
	validate *validator.Validate
	log      *logger.Logger
}

func NewHandler(runCtx context.Context, runs Runner, store *settings.Store, tracker *pipeline.Tracker, uploadDir string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		runs:      runs,
		settings:  store,
		tracker:   tracker,
		uploadDir: uploadDir,
		runCtx:    runCtx,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log.Component("api"),
	}
}

type notesUpload struct {
	Ext string `validate:"oneof=.mp3 .mp4"`
}

type audioUpload struct {
	Ext   string `validate:"oneof=.txt .pptx .xlsx .xlsm"`
	Voice string `validate:"required"`
}

type runAccepted struct {
	RunID string `json:"run_id"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "ok")
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Snapshot().Redacted())
}

// PutSettings replaces the stored settings in full. Secrets sent back in
// their redacted form keep their current value.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	reqLog := h.log.WithRequest(r)
	var in settings.Settings
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	cur := h.settings.Snapshot()
	masked := cur.Redacted()
	if in.APIKey == masked.APIKey {
		in.APIKey = cur.APIKey
	}
	if in.STTAPIKey == masked.STTAPIKey {
		in.STTAPIKey = cur.STTAPIKey
	}
	if in.TTSAPIKey == masked.TTSAPIKey {
		in.TTSAPIKey = cur.TTSAPIKey
	}

	if err := h.settings.Replace(in); err != nil {
		var verr *settings.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid settings", Fields: verr.Fields})
			return
		}
		reqLog.WithError(err).Error("saving settings failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "saving settings failed"})
		return
	}
	reqLog.Info("settings saved")
	writeJSON(w, http.StatusOK, h.settings.Snapshot().Redacted())
}

func (h *Handler) Voices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, synthesis.Voices)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

// GenerateNotes accepts an mp3/mp4 recording as multipart field "file".
func (h *Handler) GenerateNotes(w http.ResponseWriter, r *http.Request) {
	reqLog := h.log.WithRequest(r).WithField("handler", "notes")
	runID := uuid.NewString()
	path, name, err := h.receive(w, r, runID)
	if err != nil {
		reqLog.WithError(err).Warn("upload rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := h.validate.Struct(notesUpload{Ext: ext(name)}); err != nil {
		os.Remove(path)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file must be .mp3 or .mp4"})
		return
	}

	run, err := h.runs.StartNotes(h.runCtx, h.settings.Snapshot(), pipeline.NotesRequest{RunID: runID, AudioPath: path}, h.tracker)
	h.accepted(w, reqLog.WithField("upload", name), run, path, err)
}

// GenerateAudio accepts a notes file (txt, pptx or xlsx) as multipart
// field "file" and the voice id as field "voice".
func (h *Handler) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	reqLog := h.log.WithRequest(r).WithField("handler", "audio")
	runID := uuid.NewString()
	path, name, err := h.receive(w, r, runID)
	if err != nil {
		reqLog.WithError(err).Warn("upload rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	voice := r.FormValue("voice")
	if _, err := textsource.Detect(name); err != nil {
		os.Remove(path)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := h.validate.Struct(audioUpload{Ext: ext(name), Voice: voice}); err != nil {
		os.Remove(path)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "a .txt, .pptx or .xlsx file and a voice are required"})
		return
	}

	run, err := h.runs.StartAudio(h.runCtx, h.settings.Snapshot(), pipeline.AudioRequest{RunID: runID, SourcePath: path, Voice: voice}, h.tracker)
	h.accepted(w, reqLog.WithField("upload", name).WithField("voice", voice), run, path, err)
}

func (h *Handler) accepted(w http.ResponseWriter, reqLog *logrus.Entry, run pipeline.Run, upload string, err error) {
	if errors.Is(err, types.ErrBusy) {
		os.Remove(upload)
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		os.Remove(upload)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	go func() {
		<-run.Done
		os.Remove(upload)
	}()
	reqLog.Info("run accepted")
	writeJSON(w, http.StatusAccepted, runAccepted{RunID: run.ID})
}

// receive stores the multipart "file" field under the upload dir and
// returns its path and the client's file name.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request, runID string) (string, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", "", fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", fmt.Errorf("missing file: %w", err)
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(h.uploadDir, runID+"-"+name)
	out, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("store upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("store upload: %w", err)
	}
	return path, name, nil
}

func ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
