package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"noteit/api/internal/auth"
	"noteit/api/internal/store"
)

func authHeader(t *testing.T, svc *Service) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), auth.Claims{
		Sub:   "usr-1",
		Email: "avery@example.com",
		Name:  "Avery",
		JTI:   "jti-test",
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func TestRegisterNotebookEndpointCreates(t *testing.T) {
	var inserted store.RegisteredNotebook
	lookups := 0
	fs := &fakeStore{
		getNotebookFn: func(_ context.Context, userID, notebookID string) (store.RegisteredNotebook, error) {
			lookups++
			if lookups == 1 {
				return store.RegisteredNotebook{}, sql.ErrNoRows
			}
			return inserted, nil
		},
		insertNotebookFn: func(_ context.Context, nb store.RegisteredNotebook) error {
			inserted = nb
			return nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks", bytes.NewBufferString(`{"notebookId":"NB001-ABC123","nickname":"Chemistry"}`))
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
	if payload["nickname"] != "Chemistry" {
		t.Fatalf("expected nickname Chemistry, got %v", payload["nickname"])
	}
	if payload["title"] != "Student Grid Notebook" {
		t.Fatalf("expected title copied from template, got %v", payload["title"])
	}
}

func TestRegisterSixthNotebookRefusedOnFreePlan(t *testing.T) {
	fs := &fakeStore{
		countNotebooksFn: func(context.Context, string) (int, error) { return 5, nil },
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks", bytes.NewBufferString(`{"notebookId":"NB002-XYZ999"}`))
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["code"] != "LIMIT_REACHED" {
		t.Fatalf("expected LIMIT_REACHED, got %v", payload["code"])
	}
}

func TestRegisterDuplicateNotebookConflicts(t *testing.T) {
	fs := &fakeStore{
		getNotebookFn: func(_ context.Context, userID, notebookID string) (store.RegisteredNotebook, error) {
			return registeredNotebook(userID, notebookID), nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks", bytes.NewBufferString(`{"notebookId":"NB001-ABC123"}`))
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["code"] != "ALREADY_REGISTERED" {
		t.Fatalf("expected ALREADY_REGISTERED, got %v", payload["code"])
	}
}

func TestGetPageEndpointReturnsNotes(t *testing.T) {
	now := time.Now()
	fs := &fakeStore{
		getNotebookFn: func(_ context.Context, userID, notebookID string) (store.RegisteredNotebook, error) {
			return registeredNotebook(userID, notebookID), nil
		},
		getPageFn: func(_ context.Context, id string) (store.NotePage, error) {
			return store.NotePage{ID: id, NotebookID: "NB001-ABC123", PageNumber: 5, LastModified: now}, nil
		},
		listPageNotesFn: func(context.Context, string) ([]store.Note, error) {
			return []store.Note{
				{ID: "note-2", PageID: "NB001-ABC123-5", TypeID: "text", Content: "newer", CreatedAt: now},
				{ID: "note-1", PageID: "NB001-ABC123-5", TypeID: "text", Content: "older", CreatedAt: now.Add(-time.Hour)},
			}, nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/notebooks/NB001-ABC123/pages/5", nil)
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		ID         string           `json:"id"`
		PageNumber int              `json:"pageNumber"`
		Notes      []map[string]any `json:"notes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload.ID != "NB001-ABC123-5" || payload.PageNumber != 5 {
		t.Fatalf("unexpected page payload: %+v", payload)
	}
	if len(payload.Notes) != 2 || payload.Notes[0]["id"] != "note-2" {
		t.Fatalf("expected notes newest first, got %v", payload.Notes)
	}
}

func TestGetPageEndpointRejectsBadNumber(t *testing.T) {
	svc := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/notebooks/NB001-ABC123/pages/abc", nil)
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for non-numeric page, got %d", rr.Code)
	}
}

func TestAddNoteEndpointCreates(t *testing.T) {
	fs := &fakeStore{
		getNotebookFn: func(_ context.Context, userID, notebookID string) (store.RegisteredNotebook, error) {
			return registeredNotebook(userID, notebookID), nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks/NB001-ABC123/pages/3/notes", bytes.NewBufferString(`{"type":"text","content":"molar mass of NaCl is 58.44"}`))
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
	if payload["type"] != "text" {
		t.Fatalf("expected type text, got %v", payload["type"])
	}
	if payload["content"] != "molar mass of NaCl is 58.44" {
		t.Fatalf("unexpected content: %v", payload["content"])
	}
}

func TestDeleteNotebookNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodDelete, "/api/notebooks/NB001-MISSING", nil)
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestUpdateNoteEndpointEditsContent(t *testing.T) {
	fs := &fakeStore{
		getNoteForUserFn: func(_ context.Context, userID, noteID string) (store.Note, error) {
			return store.Note{ID: noteID, PageID: "NB001-ABC123-3", TypeID: "text", Content: "old"}, nil
		},
		updateNoteFn: func(_ context.Context, noteID, content string, fileURL *string) (store.Note, error) {
			if fileURL != nil {
				t.Fatal("expected no file replacement for JSON update")
			}
			return store.Note{ID: noteID, PageID: "NB001-ABC123-3", TypeID: "text", Content: content}, nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPut, "/api/notes/note-1", bytes.NewBufferString(`{"content":"corrected"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader(t, svc))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["content"] != "corrected" {
		t.Fatalf("expected updated content, got %v", payload["content"])
	}
}
