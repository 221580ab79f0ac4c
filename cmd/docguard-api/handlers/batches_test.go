package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowusman/DocGuard/internal/batch"
	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/extract"
	"github.com/nowusman/DocGuard/internal/pipeline"
	"github.com/nowusman/DocGuard/internal/validation"
)

// orchestratorSubmitter validates like the application does.
type orchestratorSubmitter struct {
	o      *batch.Orchestrator
	limits validation.Limits
}

func (s orchestratorSubmitter) Submit(ctx context.Context, docs []domain.Document, opts domain.Options) (*batch.Batch, error) {
	if err := s.limits.ValidateBatch(docs); err != nil {
		return nil, err
	}
	return s.o.ProcessBatch(ctx, docs, opts)
}

func newTestServer(t *testing.T, o *batch.Orchestrator) (*httptest.Server, *Registry) {
	t.Helper()
	limits := validation.DefaultLimits()
	registry := NewRegistry()
	opts := domain.DefaultOptions()
	opts.EnableOCR = false
	h := NewBatchHandler(nil, orchestratorSubmitter{o: o, limits: limits}, registry, opts, limits)

	r := chi.NewRouter()
	r.Post("/batches", h.Create)
	r.Get("/batches/{batchID}", h.Get)
	r.Delete("/batches/{batchID}", h.Cancel)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func readLines(t *testing.T, body io.Reader) []ResultLine {
	t.Helper()
	var lines []ResultLine
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 1<<20), 1<<24)
	for sc.Scan() {
		var l ResultLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestBatchHandler_Create_StreamsResults(t *testing.T) {
	srv, registry := newTestServer(t, batch.New(nil, nil, batch.Config{}, nil))

	body, ct := multipartBody(t,
		map[string]string{"remove_pii": "true", "extract_structured": "true", "max_workers": "2"},
		map[string]string{"a.txt": "mail ops@example.com", "b.txt": "call nobody"},
	)
	resp, err := http.Post(srv.URL+"/batches", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentTypeNDJSON, resp.Header.Get("Content-Type"))
	batchID := resp.Header.Get("X-Batch-ID")
	require.NotEmpty(t, batchID)

	lines := readLines(t, resp.Body)
	require.Len(t, lines, 3)

	texts := map[string]string{}
	for _, l := range lines[:2] {
		assert.Equal(t, "result", l.Type)
		assert.Equal(t, batchID, l.BatchID)
		require.NotNil(t, l.Result)
		assert.Equal(t, domain.StatusCompleted, l.Result.Status)
		assert.NotEmpty(t, l.OutputData)
		texts[l.Result.Filename] = l.Result.Text
	}
	assert.Equal(t, "mail [PII_REMOVED]", texts["a.txt"])
	assert.Equal(t, "call nobody", texts["b.txt"])

	last := lines[2]
	assert.Equal(t, "summary", last.Type)
	require.NotNil(t, last.Summary)
	assert.Equal(t, 2, last.Summary.Completed)
	assert.Equal(t, 0, registry.Len())
}

func TestBatchHandler_Create_Rejects(t *testing.T) {
	srv, _ := newTestServer(t, batch.New(nil, nil, batch.Config{}, nil))

	tests := []struct {
		name   string
		fields map[string]string
		files  map[string]string
		status int
	}{
		{"no files", nil, nil, http.StatusBadRequest},
		{"bad bool option", map[string]string{"anonymize": "maybe"}, map[string]string{"a.txt": "x"}, http.StatusBadRequest},
		{"bad int option", map[string]string{"max_workers": "many"}, map[string]string{"a.txt": "x"}, http.StatusBadRequest},
		{"unsupported extension", nil, map[string]string{"sheet.xlsx": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.fields, tt.files)
			resp, err := http.Post(srv.URL+"/batches", ct, body)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Empty(t, resp.Header.Get("X-Batch-ID"))
		})
	}
}

func TestBatchHandler_Create_EngineUnavailable(t *testing.T) {
	o := batch.New(nil, failingRecognizer{}, batch.Config{}, nil)
	srv, _ := newTestServer(t, o)

	body, ct := multipartBody(t, map[string]string{"remove_pii": "1"}, map[string]string{"a.txt": "x"})
	resp, err := http.Post(srv.URL+"/batches", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type failingRecognizer struct{}

func (failingRecognizer) Check(context.Context) error {
	return domain.NERUnavailableError("connection refused", nil)
}

func (failingRecognizer) BatchRecognize(context.Context, []string) ([][]domain.Entity, error) {
	return nil, nil
}

func TestBatchHandler_Cancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	factory := func() *pipeline.Processor {
		ex := extract.NewWithBackends(map[domain.Format]extract.Backend{
			domain.FormatText: extract.BackendFunc(func(data []byte) (extract.Handle, error) {
				once.Do(func() {
					close(started)
					<-release
				})
				return extract.TextBackend{}.Open(data)
			}),
		}, nil)
		return pipeline.NewProcessor(pipeline.Components{Extractor: ex}, nil)
	}
	srv, _ := newTestServer(t, batch.New(nil, nil, batch.Config{}, nil, batch.WithProcessorFactory(factory)))

	body, ct := multipartBody(t, nil, map[string]string{"a.txt": "first", "b.txt": "second"})
	resp, err := http.Post(srv.URL+"/batches", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	batchID := resp.Header.Get("X-Batch-ID")
	require.NotEmpty(t, batchID)

	<-started
	statusResp, err := http.Get(srv.URL + "/batches/" + batchID)
	require.NoError(t, err)
	statusResp.Body.Close()
	assert.Equal(t, http.StatusOK, statusResp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/batches/"+batchID, nil)
	require.NoError(t, err)
	cancelResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var status BatchStatusDTO
	require.NoError(t, json.NewDecoder(cancelResp.Body).Decode(&status))
	cancelResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, cancelResp.StatusCode)
	assert.True(t, status.CancelRequested)
	close(release)

	lines := readLines(t, resp.Body)
	require.Len(t, lines, 3)
	summary := lines[2].Summary
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Canceled)
}

func TestBatchHandler_Cancel_UnknownBatch(t *testing.T) {
	srv, _ := newTestServer(t, batch.New(nil, nil, batch.Config{}, nil))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/batches/missing", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestParseOptions(t *testing.T) {
	defaults := domain.DefaultOptions()
	opts, err := ParseOptions(map[string][]string{
		"anonymize":       {"true"},
		"anonymize_terms": {"Acme, Globex", "Initech\nacme"},
		"replacement":     {""},
		"render_scale":    {"2"},
		"enable_ocr":      {"false"},
		"unknown":         {"ignored"},
	}, defaults)
	require.NoError(t, err)

	assert.True(t, opts.Anonymize)
	assert.ElementsMatch(t, []string{"Acme", "Globex", "Initech"}, opts.AnonymizeTerms)
	assert.Equal(t, "", opts.Replacement)
	assert.Equal(t, 2.0, opts.RenderScale)
	assert.False(t, opts.EnableOCR)
	assert.Equal(t, defaults.MaxCacheItems, opts.MaxCacheItems)

	_, err = ParseOptions(map[string][]string{"header_footer_ratio": {"wide"}}, defaults)
	assert.Error(t, err)
}
