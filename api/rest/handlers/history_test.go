package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"finetune-orchestrator/api/rest/handlers"
	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// fakeHistory serves canned snapshots and records the filters it was asked
// for.
type fakeHistory struct {
	jobs   []models.Job
	events []models.JobEvent

	gotState *models.JobState
	gotLimit int
}

func (f *fakeHistory) GetJob(id string) (models.Job, error) {
	for _, job := range f.jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return models.Job{}, &fterr.NotFoundError{Kind: "job", ID: id}
}

func (f *fakeHistory) ListJobs(state *models.JobState, limit int) ([]models.Job, error) {
	f.gotState = state
	f.gotLimit = limit
	return f.jobs, nil
}

func (f *fakeHistory) GetJobEvents(jobID string, limit int) ([]models.JobEvent, error) {
	f.gotLimit = limit
	return f.events, nil
}

func newHistoryRouter(store handlers.HistoryStore) *mux.Router {
	h := handlers.NewHistoryHandler(store)
	r := mux.NewRouter()
	r.HandleFunc("/v1/history", h.ListJobs).Methods("GET")
	r.HandleFunc("/v1/history/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/v1/history/{id}/events", h.GetJobEvents).Methods("GET")
	return r
}

func TestHistory_ListJobs(t *testing.T) {
	store := &fakeHistory{jobs: []models.Job{
		{ID: "job-2", PlatformName: "acme-gpu", State: models.JobStateCompleted},
		{ID: "job-1", PlatformName: "acme-gpu", State: models.JobStateFailed},
	}}
	router := newHistoryRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history?state=completed&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var jobs []models.Job
	if err := json.NewDecoder(rec.Body).Decode(&jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].ID != "job-2" {
		t.Errorf("jobs: got %+v", jobs)
	}
	if store.gotState == nil || *store.gotState != models.JobStateCompleted {
		t.Errorf("state filter not passed through: got %v", store.gotState)
	}
	if store.gotLimit != 5 {
		t.Errorf("limit: got %d", store.gotLimit)
	}
}

func TestHistory_ListJobsInvalidLimit(t *testing.T) {
	router := newHistoryRouter(&fakeHistory{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history?limit=nope", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestHistory_GetJob(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeHistory{jobs: []models.Job{
		{ID: "job-1", PlatformName: "acme-gpu", State: models.JobStateCompleted, CreatedAt: created},
	}}
	router := newHistoryRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history/job-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var job models.Job
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.ID != "job-1" || job.State != models.JobStateCompleted {
		t.Errorf("job: got %+v", job)
	}
}

func TestHistory_GetJobNotFound(t *testing.T) {
	router := newHistoryRouter(&fakeHistory{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestHistory_GetJobEvents(t *testing.T) {
	from := models.JobStatePending
	store := &fakeHistory{events: []models.JobEvent{
		{JobID: "job-1", To: models.JobStateProvisioning, From: &from, At: time.Now()},
	}}
	router := newHistoryRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history/job-1/events", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var events []models.JobEvent
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].To != models.JobStateProvisioning {
		t.Errorf("events: got %+v", events)
	}
}
