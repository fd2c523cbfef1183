package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"speaker-notes-go/internal/auth"
	"speaker-notes-go/internal/generation"
	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/narration"
	"speaker-notes-go/internal/notes"
	"speaker-notes-go/internal/retry"
	"speaker-notes-go/internal/settings"
	"speaker-notes-go/internal/storage"
	"speaker-notes-go/internal/types"
)

type fakeService struct {
	text     string
	err      error
	block    chan struct{}
	failText string
}

func (f *fakeService) Transcribe(context.Context, string) (string, error) {
	if f.block != nil {
		<-f.block
	}
	return "transcript", nil
}

func (f *fakeService) Generate(context.Context, generation.Request) (string, error) {
	return f.text, f.err
}

func (f *fakeService) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	if f.failText != "" && text == f.failText {
		return nil, errors.New("tts failed: 400")
	}
	return []byte(text), nil
}

type fakeBackend struct {
	svc   *fakeService
	err   error
	panic bool
}

func (b *fakeBackend) Notes(context.Context, settings.Settings) (notes.Transcriber, notes.TextGenerator, error) {
	if b.panic {
		panic("backend exploded")
	}
	return b.svc, b.svc, b.err
}

func (b *fakeBackend) Audio(context.Context, settings.Settings) (narration.TextGenerator, narration.Synthesizer, error) {
	return b.svc, b.svc, b.err
}

type copyJoiner struct{}

func (copyJoiner) Join(_ context.Context, dst string, segments []types.AudioSegment) ([]types.ChunkError, error) {
	return nil, os.WriteFile(dst, []byte("mp3"), 0o600)
}

type fakePublisher struct {
	mu    sync.Mutex
	files []string
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, runID string, files []string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, files...)
	if p.err != nil {
		return nil, p.err
	}
	urls := make([]string, len(files))
	for i, f := range files {
		urls[i] = "https://bucket/" + runID + "/" + filepath.Base(f)
	}
	return urls, nil
}

func newDriver(t *testing.T, backend Backend, pub *fakePublisher) (*Driver, string) {
	t.Helper()
	dir := t.TempDir()
	out, err := storage.NewLocal(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{
		Backend:   backend,
		Output:    out,
		Joiner:    copyJoiner{},
		Narration: narration.Config{ChunkSize: 400, Concurrency: 1, WorkDir: dir},
	}
	if pub != nil {
		opts.Publisher = pub
	}
	return NewDriver(opts), dir
}

func TestGenerateNotes_TracksResult(t *testing.T) {
	d, _ := newDriver(t, &fakeBackend{svc: &fakeService{text: "Formal notes."}}, nil)
	tr := NewTracker()

	res, err := d.GenerateNotes(context.Background(), settings.Settings{}, NotesRequest{RunID: "r1", AudioPath: "talk.mp3"}, tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != types.StatusSuccess || res.RunID != "r1" || res.Kind != notes.Kind {
		t.Fatalf("result = %+v", res)
	}

	st := tr.Snapshot()
	if st.Running || st.RunID != "r1" || st.Kind != notes.Kind {
		t.Errorf("status = %+v", st)
	}
	if st.Progress.Fraction != 1 {
		t.Errorf("final fraction = %v", st.Progress.Fraction)
	}
	if st.Results[notes.Kind].Status != types.StatusSuccess {
		t.Errorf("tracked results = %+v", st.Results)
	}
	if d.Busy() {
		t.Error("driver still busy after run")
	}
}

func TestStart_BusyWhileRunning(t *testing.T) {
	svc := &fakeService{text: "notes", block: make(chan struct{})}
	d, _ := newDriver(t, &fakeBackend{svc: svc}, nil)

	run, err := d.StartNotes(context.Background(), settings.Settings{}, NotesRequest{AudioPath: "a.mp3"}, nil)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if run.ID == "" {
		t.Error("run id not assigned")
	}
	if _, err := d.StartAudio(context.Background(), settings.Settings{}, AudioRequest{SourcePath: "n.txt"}, nil); !errors.Is(err, types.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(svc.block)
	select {
	case res := <-run.Done:
		if res.Status != types.StatusSuccess {
			t.Errorf("result = %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	if _, err := d.GenerateNotes(context.Background(), settings.Settings{}, NotesRequest{AudioPath: "a.mp3"}, nil); err != nil {
		t.Errorf("driver not released: %v", err)
	}
}

func TestGenerate_BackendFailure(t *testing.T) {
	authErr := types.NewStageError(types.ErrAuth, errors.New("api key is empty"))
	d, _ := newDriver(t, &fakeBackend{err: authErr}, nil)
	tr := NewTracker()

	res, err := d.GenerateAudio(context.Background(), settings.Settings{}, AudioRequest{SourcePath: "n.txt", Voice: "v"}, tr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusFailure || !strings.Contains(res.Reason, "auth error") {
		t.Fatalf("result = %+v", res)
	}
	if tr.Snapshot().Results[narration.Kind].Status != types.StatusFailure {
		t.Error("failure not tracked")
	}
}

func TestGenerateAudio_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	d, dir := newDriver(t, &fakeBackend{svc: &fakeService{text: "Slide 1. Hello there."}}, pub)
	src := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := d.GenerateAudio(context.Background(), settings.Settings{}, AudioRequest{RunID: "r2", SourcePath: src, Voice: "v"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	if len(pub.files) != 2 || filepath.Base(pub.files[0]) != storage.ScriptArtifact || filepath.Base(pub.files[1]) != storage.AudioArtifact {
		t.Errorf("published files = %v", pub.files)
	}
	if len(res.Published) != 2 || res.Published[1] != "https://bucket/r2/final_output.mp3" {
		t.Errorf("published urls = %v", res.Published)
	}
}

func TestGenerateNotes_PublishFailureKeepsStatus(t *testing.T) {
	pub := &fakePublisher{err: errors.New("bucket gone")}
	d, _ := newDriver(t, &fakeBackend{svc: &fakeService{text: "notes"}}, pub)
	res, err := d.GenerateNotes(context.Background(), settings.Settings{}, NotesRequest{AudioPath: "a.mp3"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusSuccess || res.Published != nil {
		t.Errorf("result = %+v", res)
	}
}

// Exercises the IAM exchange and the header conventions of each service.
func TestWatson_Notes(t *testing.T) {
	var (
		mu      sync.Mutex
		headers = map[string]string{}
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/identity/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-" + r.PostForm.Get("apikey")})
	})
	mux.HandleFunc("/v1/recognize", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers["stt"] = r.Header.Get("Authorization")
		mu.Unlock()
		_, _ = io.WriteString(w, `{"results":[{"alternatives":[{"transcript":"hello "}]},{"alternatives":[{"transcript":"world"}]}]}`)
	})
	mux.HandleFunc("/ml/v1/text/generation", func(w http.ResponseWriter, r *http.Request) {
		var body generation.Request
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		headers["gen"] = r.Header.Get("Authorization")
		headers["project"] = body.ProjectID
		mu.Unlock()
		_, _ = io.WriteString(w, `{"results":[{"generated_text":"Hello world."}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	backend := &Watson{
		Auth:       auth.NewProvider(srv.URL+"/identity/token", srv.Client(), retry.None),
		Client:     srv.Client(),
		Policy:     retry.None,
		Generation: generation.Config{URL: srv.URL + "/ml/v1/text/generation?version=2023-05-29"},
	}
	d, dir := newDriver(t, backend, nil)
	audioPath := filepath.Join(dir, "talk.mp3")
	if err := os.WriteFile(audioPath, []byte("ID3"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := settings.Settings{APIKey: "main", STTAPIKey: "stt", STTURL: srv.URL, NotesPrompt: "notes-proj"}
	res, err := d.GenerateNotes(context.Background(), s, NotesRequest{AudioPath: audioPath}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	b, _ := os.ReadFile(res.Artifact)
	if string(b) != "Hello world." {
		t.Errorf("notes = %q", b)
	}
	if headers["stt"] != "Bearer tok-stt" {
		t.Errorf("stt authorization = %q", headers["stt"])
	}
	if headers["gen"] != "Bearer: tok-main" {
		t.Errorf("generation authorization = %q", headers["gen"])
	}
	if headers["project"] != "notes-proj" {
		t.Errorf("project id = %q", headers["project"])
	}
}

func TestStart_PanicReleasesDriver(t *testing.T) {
	backend := &fakeBackend{svc: &fakeService{text: "notes"}, panic: true}
	d, _ := newDriver(t, backend, nil)
	tr := NewTracker()

	res, err := d.GenerateNotes(context.Background(), settings.Settings{}, NotesRequest{RunID: "p1", AudioPath: "a.mp3"}, tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != types.StatusFailure || !strings.Contains(res.Reason, "backend exploded") {
		t.Fatalf("result = %+v", res)
	}
	if res.RunID != "p1" || res.Kind != notes.Kind {
		t.Errorf("result ids = %+v", res)
	}
	if d.Busy() {
		t.Fatal("driver still busy after panic")
	}
	if st := tr.Snapshot(); st.Running || st.Results[notes.Kind].Status != types.StatusFailure {
		t.Errorf("tracker = %+v", st)
	}

	backend.panic = false
	res, err = d.GenerateNotes(context.Background(), settings.Settings{}, NotesRequest{AudioPath: "a.mp3"}, nil)
	if err != nil || res.Status != types.StatusSuccess {
		t.Errorf("next run = %+v, %v", res, err)
	}
}

func TestGenerateAudio_LogsFailedChunks(t *testing.T) {
	dir := t.TempDir()
	out, err := storage.NewLocal(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	var buf syncBuffer
	d := NewDriver(Options{
		Backend:   &fakeBackend{svc: &fakeService{text: "aaaa bbbb cccc", failText: "bbbb"}},
		Output:    out,
		Joiner:    copyJoiner{},
		Narration: narration.Config{ChunkSize: 5, Concurrency: 1, WorkDir: dir},
		Log:       logger.Configure(&buf, "production", "info"),
	})

	res, err := d.GenerateAudio(context.Background(), settings.Settings{}, AudioRequest{SourcePath: src, Voice: "v"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusPartialSuccess {
		t.Fatalf("result = %+v", res)
	}

	var finished map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) == nil && entry["msg"] == "run finished" {
			finished = entry
		}
	}
	if finished == nil {
		t.Fatalf("no run finished entry in %s", buf.String())
	}
	idx, _ := finished["failed_chunks"].([]any)
	if len(idx) != 1 || idx[0] != float64(1) {
		t.Errorf("failed_chunks = %v", finished["failed_chunks"])
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
