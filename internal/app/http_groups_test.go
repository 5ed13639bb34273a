package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"noteit/api/internal/store"
)

func TestCreateGroupEndpoint(t *testing.T) {
	fs := &fakeStore{
		getNotebookFn: func(_ context.Context, userID, notebookID string) (store.RegisteredNotebook, error) {
			return registeredNotebook(userID, notebookID), nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks/NB001-ABC123/groups", bytes.NewBufferString(`{"name":"Exam prep","description":"Pages to review"}`))
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["name"] != "Exam prep" {
		t.Fatalf("expected group name, got %v", payload["name"])
	}
	if pages, ok := payload["pages"].([]any); !ok || len(pages) != 0 {
		t.Fatalf("expected empty pages array, got %v", payload["pages"])
	}
}

func TestCreateGroupRejectsBlankName(t *testing.T) {
	fs := &fakeStore{
		getNotebookFn: func(_ context.Context, userID, notebookID string) (store.RegisteredNotebook, error) {
			return registeredNotebook(userID, notebookID), nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks/NB001-ABC123/groups", bytes.NewBufferString(`{"name":"  "}`))
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for blank name, got %d", rr.Code)
	}
}

func TestAddPagesEndpointReturnsSortedPages(t *testing.T) {
	fs := &fakeStore{
		getPageGroupFn: func(_ context.Context, userID, groupID string) (store.PageGroup, error) {
			return store.PageGroup{ID: groupID, NotebookID: "NB001-ABC123", UserID: userID, Name: "Labs"}, nil
		},
		getNotebookFn: func(_ context.Context, userID, notebookID string) (store.RegisteredNotebook, error) {
			return registeredNotebook(userID, notebookID), nil
		},
		listGroupPageNumbersFn: func(context.Context, string) ([]int, error) {
			return []int{2, 9, 14}, nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks/NB001-ABC123/groups/grp-1/pages", bytes.NewBufferString(`{"pages":[14,9,9,2]}`))
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Pages []int `json:"pages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(payload.Pages) != 3 || payload.Pages[0] != 2 || payload.Pages[2] != 14 {
		t.Fatalf("expected ascending pages [2 9 14], got %v", payload.Pages)
	}
}

func TestRemovePagesEndpoint(t *testing.T) {
	var removed []int
	fs := &fakeStore{
		getPageGroupFn: func(_ context.Context, userID, groupID string) (store.PageGroup, error) {
			return store.PageGroup{ID: groupID, NotebookID: "NB001-ABC123", UserID: userID, Name: "Labs"}, nil
		},
		deleteGroupMembersFn: func(_ context.Context, _ string, pages []int) error {
			removed = pages
			return nil
		},
		listGroupPageNumbersFn: func(context.Context, string) ([]int, error) {
			return []int{2}, nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodDelete, "/api/notebooks/NB001-ABC123/groups/grp-1/pages", bytes.NewBufferString(`{"pages":[9,14]}`))
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(removed) != 2 || removed[0] != 9 || removed[1] != 14 {
		t.Fatalf("expected pages [9 14] removed, got %v", removed)
	}
}

func TestGroupEndpointsRequireOwnership(t *testing.T) {
	svc := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodDelete, "/api/notebooks/NB001-ABC123/groups/grp-unknown", nil)
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown group, got %d", rr.Code)
	}
}
