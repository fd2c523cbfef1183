// Package settings holds the user-editable credentials and project ids
// and persists them as a flat JSON file.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"speaker-notes-go/internal/storage"
)

const (
	DefaultSTTURL = "https://api.us-south.speech-to-text.watson.cloud.ibm.com"
	DefaultTTSURL = "https://api.us-south.text-to-speech.watson.cloud.ibm.com"
)

// Settings are read once at the start of a run and passed into it.
type Settings struct {
	APIKey      string `json:"api_key" validate:"required"`
	STTAPIKey   string `json:"stt_api_key"`
	STTURL      string `json:"stt_url" validate:"omitempty,url"`
	NotesPrompt string `json:"notes_prompt"`
	AudioPrompt string `json:"audio_prompt"`
	TTSURL      string `json:"tts_url" validate:"omitempty,url"`
	TTSAPIKey   string `json:"tts_api_key"`
}

// Defaults returns empty settings with the public service URLs filled in.
func Defaults() Settings {
	return Settings{STTURL: DefaultSTTURL, TTSURL: DefaultTTSURL}
}

// NotesReady reports whether the speech-to-notes group is complete.
func (s Settings) NotesReady() bool {
	return s.STTAPIKey != "" && s.STTURL != "" && s.NotesPrompt != ""
}

// AudioReady reports whether the notes-to-audio group is complete.
func (s Settings) AudioReady() bool {
	return s.TTSAPIKey != "" && s.TTSURL != "" && s.AudioPrompt != ""
}

// Redacted masks every secret, leaving only whether it was set.
func (s Settings) Redacted() Settings {
	s.APIKey = mask(s.APIKey)
	s.STTAPIKey = mask(s.STTAPIKey)
	s.TTSAPIKey = mask(s.TTSAPIKey)
	return s
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return "********"
}

// Load reads settings from path. A missing or malformed file yields the
// defaults and no error; only unexpected I/O failures are returned.
// Service URLs absent from the file take their defaults; values present in
// the file, empty ones included, are kept as saved.
func Load(path string) (Settings, error) {
	s := Defaults()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	stored := Defaults()
	if err := json.Unmarshal(b, &stored); err != nil {
		return s, nil
	}
	return stored, nil
}

func (s Settings) withDefaultURLs() Settings {
	if s.STTURL == "" {
		s.STTURL = DefaultSTTURL
	}
	if s.TTSURL == "" {
		s.TTSURL = DefaultTTSURL
	}
	return s
}

// Save validates s and writes every field to path, replacing the file.
func Save(path string, s Settings) error {
	if err := Validate(s); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := storage.WriteFile(path, bytes.NewReader(b), 0o600); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

var (
	validate *validator.Validate
	once     sync.Once
)

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		})
		validate.RegisterStructValidation(func(sl validator.StructLevel) {
			s := sl.Current().Interface().(Settings)
			if !s.NotesReady() && !s.AudioReady() {
				sl.ReportError(s.STTAPIKey, "stt_api_key", "STTAPIKey", "group", "")
			}
		}, Settings{})
	})
	return validate
}

// ValidationError lists the offending fields by their JSON names.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range sortedKeys(e.Fields) {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid settings: " + strings.Join(parts, "; ")
}

// Validate enforces the save rule: an API key plus at least one complete
// group (STT key, STT URL and notes project, or the TTS equivalents).
func Validate(s Settings) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate settings: %w", err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "group":
		return "complete either stt_api_key, stt_url and notes_prompt or tts_api_key, tts_url and audio_prompt"
	default:
		return "is invalid"
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
