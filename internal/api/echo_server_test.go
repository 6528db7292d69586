package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/beamstep/internal/beam"
	"github.com/samcharles93/beamstep/internal/search"
	"github.com/samcharles93/beamstep/internal/translate"
)

type testTranslator struct {
	err   error
	calls int
	opts  int
}

func (tt *testTranslator) Translate(ctx context.Context, reqs []translate.Request, opts ...translate.Option) ([]translate.Response, translate.Stats, error) {
	tt.calls++
	tt.opts = len(opts)
	if tt.err != nil {
		return nil, translate.Stats{}, tt.err
	}
	out := make([]translate.Response, len(reqs))
	for i, r := range reqs {
		out[i] = translate.Response{
			ID:     r.ID,
			Source: r.Source,
			NBest:  []translate.Translation{{Text: strings.ToUpper(r.Source), Tokens: strings.Fields(strings.ToUpper(r.Source))}},
		}
	}
	return out, translate.Stats{Sentences: len(reqs), TokensGenerated: 2 * len(reqs)}, nil
}

func newTestEcho(tr Translator) *echo.Echo {
	server := NewServer(NewTranslationStore(), tr, nil)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateGetDeleteTranslationLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&testTranslator{})
	createRec := doJSON(t, e, http.MethodPost, "/v1/translations", `{"sources":["hallo welt","guten tag"]}`)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", createRec.Code, createRec.Body.String())
	}

	var created TranslationResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !strings.HasPrefix(created.ID, "tr_") {
		t.Fatalf("unexpected translation id %q", created.ID)
	}
	if len(created.Results) != 2 || created.Results[1].NBest[0].Text != "GUTEN TAG" {
		t.Fatalf("unexpected results: %+v", created.Results)
	}
	if created.Usage.Sentences != 2 || created.Usage.TokensGenerated != 4 {
		t.Fatalf("unexpected usage: %+v", created.Usage)
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/translations/"+created.ID, "")
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status: got %d body=%s", getRec.Code, getRec.Body.String())
	}

	delRec := doJSON(t, e, http.MethodDelete, "/v1/translations/"+created.ID, "")
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete status: got %d body=%s", delRec.Code, delRec.Body.String())
	}
	if !strings.Contains(delRec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete response missing deleted=true: %s", delRec.Body.String())
	}

	getDeletedRec := doJSON(t, e, http.MethodGet, "/v1/translations/"+created.ID, "")
	if getDeletedRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d body=%s", getDeletedRec.Code, getDeletedRec.Body.String())
	}
	delAgain := doJSON(t, e, http.MethodDelete, "/v1/translations/"+created.ID, "")
	if delAgain.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", delAgain.Code)
	}
}

func TestCreateValidationErrors(t *testing.T) {
	t.Parallel()

	tr := &testTranslator{}
	e := newTestEcho(tr)

	tests := []struct {
		body string
		want string
	}{
		{`{"sources":[]}`, "sources is required"},
		{`{"sources":["a","  "]}`, "source 1 is empty"},
		{`{"sources":["a"],"beam_size":0}`, "beam_size must be positive"},
		{`{"sources":["a"],"beam_size":1073741824}`, "beam_size must be at most"},
		{`{"sources":["a"],"n_best":-1}`, "n_best must be positive"},
		{`{"sources":["a"],"temperature":1}`, "invalid JSON body"},
		{`{"sources":`, "invalid JSON body"},
		{fmt.Sprintf(`{"sources":[%s"a"]}`, strings.Repeat(`"a",`, MaxSources)), "at most"},
	}
	for _, tc := range tests {
		rec := doJSON(t, e, http.MethodPost, "/v1/translations", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d body=%s", tc.want, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("unexpected error body for %q: %s", tc.want, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"type":"invalid_request_error"`) {
			t.Fatalf("missing error type: %s", rec.Body.String())
		}
	}
	if tr.calls != 0 {
		t.Fatalf("translator should not run for invalid requests, ran %d times", tr.calls)
	}
}

func TestCreatePassesSearchOverrides(t *testing.T) {
	t.Parallel()

	tr := &testTranslator{}
	e := newTestEcho(tr)
	rec := doJSON(t, e, http.MethodPost, "/v1/translations", `{"sources":["a"],"beam_size":4,"n_best":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if tr.opts != 2 {
		t.Fatalf("expected 2 call options, got %d", tr.opts)
	}
}

func TestTranslatorErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("wrap: %w", search.ErrInvalidConfig), http.StatusBadRequest},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		e := newTestEcho(&testTranslator{err: tc.err})
		rec := doJSON(t, e, http.MethodPost, "/v1/translations", `{"sources":["a"]}`)
		if rec.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d body=%s", tc.err, tc.code, rec.Code, rec.Body.String())
		}
	}
}

func TestMissingTranslator(t *testing.T) {
	t.Parallel()

	e := newTestEcho(nil)
	rec := doJSON(t, e, http.MethodPost, "/v1/translations", `{"sources":["a"]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealthCountsStoredTranslations(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&testTranslator{})
	doJSON(t, e, http.MethodPost, "/v1/translations", `{"sources":["a"]}`)
	rec := doJSON(t, e, http.MethodGet, "/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status: %d", rec.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Translations != 1 || health.Version == "" {
		t.Fatalf("unexpected health %+v", health)
	}
	if got := rec.Header().Get("Server"); !strings.HasPrefix(got, "beamstep/") {
		t.Fatalf("unexpected server header %q", got)
	}
}

func TestServerWithToyService(t *testing.T) {
	t.Parallel()

	st := translate.DefaultSettings()
	st.SyntheticVocab = 12
	st.Hidden = 8
	st.Search.BeamSize = 2
	st.Search.Options = beam.Options{MaxSentLength: 5, MaxNumUnks: 5}
	svc, err := translate.New(st, nil)
	if err != nil {
		t.Fatalf("translate.New: %v", err)
	}

	e := newTestEcho(svc)
	rec := doJSON(t, e, http.MethodPost, "/v1/translations", `{"sources":["w4 w5","w6"],"n_best":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var created TranslationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, r := range created.Results {
		if len(r.NBest) == 0 || len(r.NBest) > 2 {
			t.Fatalf("unexpected n-best size %d for %q", len(r.NBest), r.Source)
		}
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/translations", `{"sources":["w4"],"n_best":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("n_best above beam size: expected 400, got %d", rec.Code)
	}
}
