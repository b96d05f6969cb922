package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"storybook/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindNotFound:                 http.StatusNotFound,
		domain.KindValidation:               http.StatusBadRequest,
		domain.KindUpstreamGeneration:       http.StatusBadGateway,
		domain.KindPersistenceInconsistency: http.StatusServiceUnavailable,
		domain.KindCreditExhausted:          http.StatusPaymentRequired,
		domain.KindStageOrderViolation:      http.StatusConflict,
		domain.KindStageInFlight:            http.StatusConflict,
		domain.KindInternal:                 http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := StatusFor(kind); got != want {
			t.Errorf("StatusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestErrorMasksInternalMessage(t *testing.T) {
	app := &App{Logger: zerolog.Nop()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	app.error(rec, req, errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Error.Message != "internal error" || body.Error.Kind != domain.KindInternal {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestErrorCarriesMissingScenes(t *testing.T) {
	app := &App{Logger: zerolog.Nop()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	se := domain.NewStageError(domain.KindStageOrderViolation, "finalize", "job j1", errors.New("scenes missing"))
	se.MissingScenes = []int{2, 3}
	app.error(rec, req, se)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Stage != "finalize" || len(body.Error.MissingScenes) != 2 || body.Error.MissingScenes[1] != 3 {
		t.Fatalf("unexpected body: %+v", body)
	}
}
