package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dblock/sparta-social/internal/auth"
	"github.com/dblock/sparta-social/internal/domain"
)

func newTestHandler(store domain.ActivityStore, putter domain.RecordPutter) *Handler {
	logger := log.New(testWriter{}, "", 0)
	service := domain.NewService(store, putter, domain.WithLogger(logger))
	return NewHandler(service, &stubResolver{handles: map[string]string{"did:plc:abc": "alice.example.com"}}, logger)
}

func authedRequest(req *http.Request) *http.Request {
	claims := &auth.Claims{
		DID:            "did:plc:abc",
		PDSEndpoint:    "http://pds.example.com",
		PDSAccessToken: "token",
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestCreateActivityRequiresSession(t *testing.T) {
	handler := newTestHandler(newMockStore(), &mockPutter{})

	req := httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(`{"title":"Morning Run","activity_type":"Run"}`))
	rr := httptest.NewRecorder()
	handler.activities(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestCreateActivitySuccess(t *testing.T) {
	store := newMockStore()
	putter := &mockPutter{uri: "at://did:plc:abc/org.sweatosphere.activity/1"}
	handler := newTestHandler(store, putter)

	body := `{"title":"Morning Run","activity_type":"Run","distance_in_cm":500000}`
	req := authedRequest(httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(body)))
	rr := httptest.NewRecorder()
	handler.activities(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}

	var view ActivityView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.URI != putter.uri {
		t.Fatalf("unexpected uri %q", view.URI)
	}
	if view.AuthorHandle != "alice.example.com" {
		t.Fatalf("unexpected handle %q", view.AuthorHandle)
	}
	if view.DistanceInCm == nil || *view.DistanceInCm != 500000 {
		t.Fatalf("unexpected distance %v", view.DistanceInCm)
	}
	if _, ok := store.rows[putter.uri]; !ok {
		t.Fatalf("expected optimistic row for %s", putter.uri)
	}
}

func TestCreateActivityValidationFailure(t *testing.T) {
	handler := newTestHandler(newMockStore(), &mockPutter{})

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(`{"activity_type":"Run"}`)))
	rr := httptest.NewRecorder()
	handler.activities(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestListActivitiesResolvesHandles(t *testing.T) {
	store := newMockStore()
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	store.list = []domain.ActivityRecord{
		{
			URI:          "at://did:plc:abc/org.sweatosphere.activity/2",
			AuthorDID:    "did:plc:abc",
			Title:        "Evening Ride",
			ActivityType: "Ride",
			CreatedAt:    "2024-03-01T11:00:00Z",
			IndexedAt:    now,
		},
		{
			URI:          "at://did:plc:abc/org.sweatosphere.activity/1",
			AuthorDID:    "did:plc:abc",
			Title:        "Morning Run",
			ActivityType: "Run",
			CreatedAt:    "2024-03-01T06:00:00Z",
			IndexedAt:    now.Add(-time.Hour),
		},
	}
	handler := newTestHandler(store, &mockPutter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/activities?limit=2", nil)
	rr := httptest.NewRecorder()
	handler.activities(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(resp.Items))
	}
	if resp.Items[0].Title != "Evening Ride" {
		t.Fatalf("unexpected first item %q", resp.Items[0].Title)
	}
	if resp.Items[0].AuthorHandle != "alice.example.com" {
		t.Fatalf("unexpected handle %q", resp.Items[0].AuthorHandle)
	}
}

func TestListActivitiesRejectsBadLimit(t *testing.T) {
	handler := newTestHandler(newMockStore(), &mockPutter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/activities?limit=zero", nil)
	rr := httptest.NewRecorder()
	handler.activities(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestActivityByURI(t *testing.T) {
	store := newMockStore()
	uri := "at://did:plc:abc/org.sweatosphere.activity/1"
	store.rows[uri] = domain.ActivityRecord{
		URI:          uri,
		AuthorDID:    "did:plc:abc",
		Title:        "Morning Run",
		ActivityType: "Run",
		CreatedAt:    "2024-03-01T06:00:00Z",
		IndexedAt:    time.Now().UTC(),
	}
	handler := newTestHandler(store, &mockPutter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/activity?uri="+uri, nil)
	rr := httptest.NewRecorder()
	handler.activityByURI(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/activity?uri=at://did:plc:abc/org.sweatosphere.activity/404", nil)
	rr = httptest.NewRecorder()
	handler.activityByURI(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/activity", nil)
	rr = httptest.NewRecorder()
	handler.activityByURI(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

type mockPutter struct {
	uri string
}

func (p *mockPutter) PutRecord(context.Context, string, string, string, map[string]any) (string, error) {
	return p.uri, nil
}

type mockStore struct {
	rows map[string]domain.ActivityRecord
	list []domain.ActivityRecord
}

func newMockStore() *mockStore {
	return &mockStore{rows: make(map[string]domain.ActivityRecord)}
}

func (s *mockStore) Upsert(_ context.Context, rec domain.ActivityRecord) error {
	s.rows[rec.URI] = rec
	return nil
}

func (s *mockStore) DeleteByURI(_ context.Context, uri string) error {
	delete(s.rows, uri)
	return nil
}

func (s *mockStore) Get(_ context.Context, uri string) (*domain.ActivityRecord, error) {
	rec, ok := s.rows[uri]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *mockStore) ListRecent(_ context.Context, _ *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	if limit > len(s.list) {
		limit = len(s.list)
	}
	out := make([]domain.ActivityRecord, limit)
	copy(out, s.list[:limit])
	return out, nil, nil
}

type stubResolver struct {
	handles map[string]string
}

func (r *stubResolver) ResolveDIDsToHandles(_ context.Context, dids []string) (map[string]string, error) {
	out := make(map[string]string, len(dids))
	for _, did := range dids {
		out[did] = r.handles[did]
	}
	return out, nil
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }
