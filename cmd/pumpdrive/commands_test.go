package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// runCLI points the commands at ts and executes args, returning stdout.
func runCLI(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()
	oldClient := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	oldColor := noColor
	t.Cleanup(func() {
		newAPIClient = oldClient
		noColor = oldColor
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default so state from one Execute
// does not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

const outcomeJSON = `{
  "recommendation": {
    "categories": [
      {"category_label": "comfort", "candidate": "Omnipod 5", "score": 90, "reasoning": "tubeless", "key_points": []}
    ],
    "overall": {"category_label": "overall", "candidate": "Omnipod 5", "score": 81, "reasoning": "best fit", "key_points": []},
    "summary": "Omnipod 5 is the best overall fit.",
    "observations": ["Because you spend time in the water, confirm the rating."],
    "follow_up_questions": ["How does your insurance cover pumps?"],
    "source": "cache"
  },
  "profile_hash": "abc",
  "cache_hit": true,
  "similarity": 0.91
}`

func TestRecommendCommand_Flags(t *testing.T) {
	ts := newTestServer(t, map[string]string{"POST /v1/recommendations": outcomeJSON})

	out, err := runCLI(t, ts, "recommend",
		"--lifestyle", "swims daily",
		"--cost", "great insurance",
		"--topics", "lifestyle=waterproof, discreet",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/v1/recommendations" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body struct {
		Profile map[string]categoryAnswer `json:"profile"`
	}
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Profile["lifestyle"].FreeText != "swims daily" {
		t.Errorf("lifestyle = %+v", body.Profile["lifestyle"])
	}
	if got := body.Profile["lifestyle"].SelectedTopics; len(got) != 2 || got[1] != "discreet" {
		t.Errorf("topics = %v, want [waterproof discreet]", got)
	}
	if body.Profile["cost"].FreeText != "great insurance" {
		t.Errorf("cost = %+v", body.Profile["cost"])
	}
	if _, ok := body.Profile["support"]; ok {
		t.Error("unanswered categories should not be sent")
	}

	for _, want := range []string{"Recommended: Omnipod 5 (81/100)", "comfort:", "water", "How does your insurance", "similarity 0.91"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRecommendCommand_File(t *testing.T) {
	ts := newTestServer(t, map[string]string{"POST /v1/recommendations": outcomeJSON})
	path := filepath.Join(t.TempDir(), "answers.json")
	os.WriteFile(path, []byte(`{"support":{"free_text":"my caregiver follows my numbers"}}`), 0o644)

	out, err := runCLI(t, ts, "recommend", "--file", path, "--complexity", "keep it simple", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		Profile map[string]categoryAnswer `json:"profile"`
	}
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if len(body.Profile) != 2 {
		t.Errorf("profile = %+v, want support and complexity", body.Profile)
	}

	var printed map[string]any
	if err := json.Unmarshal([]byte(out), &printed); err != nil {
		t.Fatalf("--json output is not JSON: %v\n%s", err, out)
	}
	if printed["cache_hit"] != true {
		t.Errorf("cache_hit = %v", printed["cache_hit"])
	}
}

func TestRecommendCommand_Validation(t *testing.T) {
	ts := newTestServer(t, nil)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no answers", []string{"recommend"}, "at least one"},
		{"bad topics", []string{"recommend", "--topics", "lifestyle"}, "invalid --topics"},
		{"unknown topic category", []string{"recommend", "--topics", "mood=happy"}, "unknown category"},
		{"missing file", []string{"recommend", "--file", "/no/such/file.json"}, "reading answers file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, ts, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
	if len(ts.requests) != 0 {
		t.Errorf("invalid input should not reach the server, got %d requests", len(ts.requests))
	}
}

func TestRecommendCommand_ServerError(t *testing.T) {
	ts := &testServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"recommendation failed: unavailable","type":"service_unavailable"}}`))
	}))
	t.Cleanup(ts.server.Close)

	_, err := runCLI(t, ts, "recommend", "--cost", "cheap")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "recommendation failed") {
		t.Errorf("err = %v", err)
	}
}

func TestStatsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/stats": `{"window":"1h0m0s","total_requests":10,"cache_hits":4,"hit_rate":0.4,"estimated_cost_usd":0.12,"estimated_savings_usd":0.08,"cache_entries":6,"queue":{"queued":0,"processed":6,"failures":1,"timeouts":0}}`,
	})

	out, err := runCLI(t, ts, "stats", "--window", "1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/v1/stats?window=1h0m0s" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
	for _, want := range []string{"Requests: 10", "4 (40.0%)", "$0.08", "Cache entries: 6", "6 processed, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCachePruneCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{"POST /v1/cache/prune": `{"deleted":3,"keep":10}`})

	if _, err := runCLI(t, ts, "cache", "prune", "--keep", "10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := runCLI(t, ts, "cache", "prune"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	if ts.requests[0].Path != "/v1/cache/prune?keep=10" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
	if ts.requests[1].Path != "/v1/cache/prune" {
		t.Errorf("path without --keep = %q", ts.requests[1].Path)
	}

	if _, err := runCLI(t, ts, "cache", "prune", "--keep", "-1"); err == nil {
		t.Error("expected error for negative --keep")
	}
}

func TestCatalogCommand(t *testing.T) {
	ts := newTestServer(t, nil)
	out, err := runCLI(t, ts, "catalog")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Omnipod 5:") || !strings.Contains(out, "tubeless") {
		t.Errorf("output = %q", out)
	}
	if len(ts.requests) != 0 {
		t.Error("catalog should not need the server")
	}
}

func TestServerNotRunning(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.client()
	ts.server.Close()

	_, err := client.get(context.Background(), "/v1/stats")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteHeader(http.StatusBadRequest)
	rr.Write([]byte(`{"error":{"message":"unknown category mood","type":"invalid_request_error"}}`))

	var v any
	err := decodeJSON(rr.Result(), &v)
	if err == nil || err.Error() != "server returned 400: unknown category mood" {
		t.Errorf("err = %v", err)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
