package turn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/turnkit/pkg/ai/llm"
)

var helloChat = ChatContext{
	Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: "Hi!"},
	},
	Language: "en-US",
}

func TestRemoteDetector_Predict(t *testing.T) {
	is := is.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %s", r.Header.Get("Content-Type"))
		}
		var req RemoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Language != "en-US" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(RemoteResponse{Probability: 0.92})
	}))
	defer server.Close()

	d := NewRemoteDetector(server.URL, nil, nil)
	prob, err := d.PredictEndOfTurn(context.Background(), helloChat)
	is.NoErr(err)
	is.Equal(prob, 0.92)
}

func TestRemoteDetector_Fallback(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"application error", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(RemoteResponse{Error: "overloaded"})
		}},
		{"out of range", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(RemoteResponse{Probability: 1.5})
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			d := NewRemoteDetector(server.URL, &stubDetector{probability: 0.75, threshold: 0.85, supported: true}, nil)
			prob, err := d.PredictEndOfTurn(context.Background(), helloChat)
			is.NoErr(err)
			is.Equal(prob, 0.75) // fallback answered

			withoutFallback := NewRemoteDetector(server.URL, nil, nil)
			_, err = withoutFallback.PredictEndOfTurn(context.Background(), helloChat)
			is.True(err != nil)
		})
	}
}

func TestRemoteDetector_Thresholds(t *testing.T) {
	is := is.New(t)
	d := NewRemoteDetector("http://localhost", nil, nil)

	th, err := d.UnlikelyThreshold("en-US")
	is.NoErr(err)
	is.Equal(th, 0.85)
	th, err = d.UnlikelyThreshold("fr")
	is.NoErr(err)
	is.Equal(th, 0.80)
	is.True(d.SupportsLanguage("fr"))

	withFallback := NewRemoteDetector("http://localhost", &stubDetector{threshold: 0.5, supported: false}, nil)
	is.True(!withFallback.SupportsLanguage("fr"))
	_, err = withFallback.UnlikelyThreshold("fr")
	is.True(err != nil) // fallback decides
}
