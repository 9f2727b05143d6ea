package intake

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan/internal/domain/registry"
)

// ocrServer records the size of every uploaded file and delegates the reply.
type ocrServer struct {
	mu    sync.Mutex
	sizes []int
	reply func(w http.ResponseWriter, attempt int)
}

func (s *ocrServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/extract" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"error":"missing file"}`, http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(file)
	file.Close()

	s.mu.Lock()
	s.sizes = append(s.sizes, len(data))
	attempt := len(s.sizes)
	s.mu.Unlock()

	s.reply(w, attempt)
}

func (s *ocrServer) uploads() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.sizes...)
}

const sampleOCRResponse = `{
	"fields": {
		"full_name": "MARIA SANTOS DELA CRUZ",
		"id_number": "ID-2024-001234",
		"birth_date": "1985-03-15"
	},
	"confidence": {"full_name": 95, "id_number": 98},
	"overall_confidence": 91
}`

func writeSample(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, sampleOCRResponse)
}

func newTestRemoteExtractor(t *testing.T, srv *ocrServer) *RemoteExtractor {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	e := NewRemoteExtractor(ts.URL, 5*time.Second, zerolog.Nop())
	e.client.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	return e
}

func TestRemoteExtractor_Success(t *testing.T) {
	srv := &ocrServer{reply: func(w http.ResponseWriter, _ int) { writeSample(w) }}
	e := newTestRemoteExtractor(t, srv)

	got, err := e.Extract(context.Background(), jpeg, "image/jpeg")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := &Extraction{
		Draft: registry.Draft{
			FullName:  "MARIA SANTOS DELA CRUZ",
			IDNumber:  "ID-2024-001234",
			BirthDate: "1985-03-15",
		},
		Confidence: Confidence{
			Overall: 91,
			Fields:  map[string]int{"full_name": 95, "id_number": 98},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("extraction mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{len(jpeg)}, srv.uploads()); diff != "" {
		t.Errorf("upload sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoteExtractor_ServiceError(t *testing.T) {
	srv := &ocrServer{reply: func(w http.ResponseWriter, _ int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"error":"image too blurry"}`)
	}}
	e := newTestRemoteExtractor(t, srv)

	_, err := e.Extract(context.Background(), jpeg, "image/jpeg")
	if err == nil {
		t.Fatal("expected an error for a 422 response")
	}
	if !strings.Contains(err.Error(), "422") || !strings.Contains(err.Error(), "image too blurry") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRemoteExtractor_RetryResendsImage(t *testing.T) {
	srv := &ocrServer{}
	srv.reply = func(w http.ResponseWriter, attempt int) {
		if attempt == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			conn.Close()
			return
		}
		writeSample(w)
	}
	e := newTestRemoteExtractor(t, srv)

	got, err := e.Extract(context.Background(), jpeg, "image/jpeg")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Draft.FullName != "MARIA SANTOS DELA CRUZ" {
		t.Errorf("unexpected draft %+v", got.Draft)
	}
	if diff := cmp.Diff([]int{len(jpeg), len(jpeg)}, srv.uploads()); diff != "" {
		t.Errorf("every attempt should carry the full image (-want +got):\n%s", diff)
	}
}

func TestRemoteExtractor_CancelledContext(t *testing.T) {
	srv := &ocrServer{reply: func(w http.ResponseWriter, _ int) { writeSample(w) }}
	e := newTestRemoteExtractor(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Extract(ctx, jpeg, "image/jpeg"); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}
