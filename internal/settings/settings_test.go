package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func complete() Settings {
	return Settings{
		APIKey:      "key",
		STTAPIKey:   "stt-key",
		STTURL:      "https://stt.example.com",
		NotesPrompt: "notes-project",
		AudioPrompt: "audio-project",
		TTSURL:      "https://tts.example.com",
		TTSAPIKey:   "tts-key",
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	want := complete()
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestSaveLoadRoundTrip_SingleGroup(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
	}{
		{
			name: "audio only",
			s:    Settings{APIKey: "k", TTSAPIKey: "t", TTSURL: "https://tts.example.com", AudioPrompt: "p"},
		},
		{
			name: "notes only",
			s:    Settings{APIKey: "k", STTAPIKey: "s", STTURL: "https://stt.example.com", NotesPrompt: "n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.json")
			if err := Save(path, tt.s); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got != tt.s {
				t.Errorf("round trip = %+v, want %+v", got, tt.s)
			}
		})
	}
}

func TestLoad_MissingOrMalformed(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content *string
	}{
		{name: "missing"},
		{name: "malformed", content: ptr("{not json")},
		{name: "empty", content: ptr("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != Defaults() {
				t.Errorf("got %+v, want defaults", got)
			}
		})
	}
}

func TestLoad_FillsMissingURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"api_key":"k","notes_prompt":"p"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.APIKey != "k" || got.NotesPrompt != "p" {
		t.Errorf("fields not loaded: %+v", got)
	}
	if got.STTURL != DefaultSTTURL || got.TTSURL != DefaultTTSURL {
		t.Errorf("default URLs not applied: %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{name: "complete", mutate: func(*Settings) {}},
		{name: "notes group only", mutate: func(s *Settings) { s.TTSAPIKey = ""; s.AudioPrompt = "" }},
		{name: "audio group only", mutate: func(s *Settings) { s.STTAPIKey = ""; s.NotesPrompt = "" }},
		{name: "no api key", mutate: func(s *Settings) { s.APIKey = "" }, wantErr: "api_key"},
		{name: "no complete group", mutate: func(s *Settings) { s.STTAPIKey = ""; s.TTSAPIKey = "" }, wantErr: "stt_api_key"},
		{name: "bad url", mutate: func(s *Settings) { s.TTSURL = "not a url" }, wantErr: "tts_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := complete()
			tt.mutate(&s)
			err := Validate(s)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tt.wantErr]; !ok {
				t.Errorf("expected field %q in %v", tt.wantErr, verr.Fields)
			}
		})
	}
}

func TestSave_RejectsInvalidWithoutWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := Save(path, Settings{}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("settings file should not exist, stat err = %v", err)
	}
}

func TestRedacted(t *testing.T) {
	r := complete().Redacted()
	if r.APIKey == "key" || r.STTAPIKey == "stt-key" || r.TTSAPIKey == "tts-key" {
		t.Errorf("secrets leaked: %+v", r)
	}
	if r.NotesPrompt != "notes-project" || r.STTURL != "https://stt.example.com" {
		t.Errorf("non-secret fields changed: %+v", r)
	}
	if got := (Settings{}).Redacted().APIKey; got != "" {
		t.Errorf("unset secret should stay empty, got %q", got)
	}
}

func TestStore_Replace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	st, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	before := st.Snapshot()
	if err := st.Replace(Settings{APIKey: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
	if st.Snapshot() != before {
		t.Error("snapshot changed after failed replace")
	}
	if err := st.Replace(complete()); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if st.Snapshot() != complete() {
		t.Errorf("snapshot = %+v", st.Snapshot())
	}
	reloaded, _ := Load(path)
	if reloaded != complete() {
		t.Errorf("persisted = %+v", reloaded)
	}
}

func ptr(s string) *string { return &s }
