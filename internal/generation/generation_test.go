package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"speaker-notes-go/internal/auth"
	"speaker-notes-go/internal/retry"
)

func TestClient_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a := r.Header.Get("Authorization"); a != "Bearer: tok" {
			t.Errorf("authorization = %q", a)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Write([]byte(`{"results":[{"generated_text":"Formal notes."}]}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, auth.Token{AccessToken: "tok"}, srv.Client(), retry.None, nil)
	text, err := c.Generate(context.Background(), Request{
		Input:       "rewrite this",
		Parameters:  Greedy(2000),
		ProjectID:   "proj-1",
		Moderations: MaskedHAP(0.5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Formal notes." {
		t.Errorf("text = %q", text)
	}

	if got["model_id"] != DefaultModelID {
		t.Errorf("model_id = %v", got["model_id"])
	}
	if got["project_id"] != "proj-1" {
		t.Errorf("project_id = %v", got["project_id"])
	}
	params := got["parameters"].(map[string]any)
	if params["decoding_method"] != "greedy" || params["max_new_tokens"] != float64(2000) || params["repetition_penalty"] != float64(1) {
		t.Errorf("parameters = %v", params)
	}
	hap := got["moderations"].(map[string]any)["hap"].(map[string]any)
	for _, dir := range []string{"input", "output"} {
		f := hap[dir].(map[string]any)
		if f["enabled"] != true || f["threshold"] != 0.5 {
			t.Errorf("%s filter = %v", dir, f)
		}
		if f["mask"].(map[string]any)["remove_entity_value"] != true {
			t.Errorf("%s mask = %v", dir, f["mask"])
		}
	}
}

func TestClient_GenerateOmitsModerationsWhenUnset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		json.NewDecoder(r.Body).Decode(&got)
		if _, ok := got["moderations"]; ok {
			t.Error("moderations should be omitted")
		}
		w.Write([]byte(`{"results":[{"generated_text":"ok"}]}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, auth.Token{AccessToken: "tok"}, srv.Client(), retry.None, nil)
	if _, err := c.Generate(context.Background(), Request{Input: "x", Parameters: Greedy(10)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"non-2xx body verbatim", http.StatusForbidden, `{"errors":[{"message":"project not found"}]}`, func(t *testing.T, err error) {
			var se *retry.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			if se.Body != `{"errors":[{"message":"project not found"}]}` {
				t.Errorf("body = %q", se.Body)
			}
		}},
		{"malformed", http.StatusOK, `<html>`, func(t *testing.T, err error) {
			if err == nil || !strings.Contains(err.Error(), "unexpected llm response") {
				t.Errorf("unexpected error %v", err)
			}
		}},
		{"no results", http.StatusOK, `{"results":[]}`, func(t *testing.T, err error) {
			if err == nil || !strings.Contains(err.Error(), "no results") {
				t.Errorf("unexpected error %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			c := New(Config{URL: srv.URL}, auth.Token{AccessToken: "tok"}, srv.Client(), retry.None, nil)
			_, err := c.Generate(context.Background(), Request{Input: "x"})
			tt.check(t, err)
		})
	}
}
