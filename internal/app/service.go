package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"noteit/api/internal/auth"
	"noteit/api/internal/authpw"
	"noteit/api/internal/config"
	"noteit/api/internal/email"
	"noteit/api/internal/export"
	"noteit/api/internal/media"
	"noteit/api/internal/search"
	"noteit/api/internal/store"
	"noteit/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Name         string
	PlanID       string
	JTI          string
	ExpiresAt    time.Time
}

// UploadInput is a file received from the client, already read into memory.
type UploadInput struct {
	Kind        string // "photo" or "voice"
	Filename    string
	ContentType string
	Data        []byte
	Duration    *int // seconds, voice only
}

type dataStore interface {
	GetProfileByID(ctx context.Context, userID string) (store.Profile, error)
	GetPlan(ctx context.Context, planID string) (store.UserPlan, error)
	ListPlans(ctx context.Context) ([]store.UserPlan, error)
	ListCategories(ctx context.Context) ([]store.NotebookCategory, error)
	ListNoteTypes(ctx context.Context) ([]store.NoteType, error)
	GetNoteType(ctx context.Context, typeID string) (store.NoteType, error)
	ListTemplates(ctx context.Context) ([]store.NotebookTemplate, error)
	InsertTemplate(ctx context.Context, t store.NotebookTemplate) error
	InsertCategory(ctx context.Context, c store.NotebookCategory) error
	InsertNoteType(ctx context.Context, t store.NoteType) error
	InsertPlan(ctx context.Context, p store.UserPlan) error

	ListNotebooks(ctx context.Context, userID string) ([]store.RegisteredNotebook, error)
	GetNotebook(ctx context.Context, userID, notebookID string) (store.RegisteredNotebook, error)
	CountNotebooks(ctx context.Context, userID string) (int, error)
	InsertNotebook(ctx context.Context, nb store.RegisteredNotebook) error
	DeleteNotebook(ctx context.Context, userID, notebookID string) (bool, error)
	TouchNotebookLastUsed(ctx context.Context, notebookID string) error

	GetPage(ctx context.Context, pageID string) (store.NotePage, error)
	InsertPage(ctx context.Context, p store.NotePage) error
	TouchPageLastModified(ctx context.Context, pageID string) error
	ListPageNotes(ctx context.Context, pageID string) ([]store.Note, error)
	CountPageNotes(ctx context.Context, pageID string) (int, error)
	InsertNote(ctx context.Context, n store.Note) (store.Note, error)
	GetNoteForUser(ctx context.Context, userID, noteID string) (store.Note, error)
	UpdateNote(ctx context.Context, noteID, content string, fileURL *string) (store.Note, error)
	DeleteNote(ctx context.Context, noteID string) error

	ListNotebookGroups(ctx context.Context, userID, notebookID string) ([]store.PageGroup, error)
	GetPageGroup(ctx context.Context, userID, groupID string) (store.PageGroup, error)
	CountNotebookGroups(ctx context.Context, notebookID string) (int, error)
	InsertPageGroup(ctx context.Context, g store.PageGroup) (store.PageGroup, error)
	UpdatePageGroup(ctx context.Context, groupID, name, description string) (store.PageGroup, error)
	DeletePageGroup(ctx context.Context, groupID string) error
	ListGroupPageNumbers(ctx context.Context, groupID string) ([]int, error)
	InsertGroupMembers(ctx context.Context, groupID string, pageNumbers []int, newID func() string) error
	DeleteGroupMembers(ctx context.Context, groupID string, pageNumbers []int) error

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Backed by Redis when configured,
// otherwise by the primary database.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type mediaStore interface {
	Upload(ctx context.Context, bucket, object string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, bucket, object string) error
	ObjectFromURL(fileURL string) (bucket, object string, ok bool)
	PhotoBucket() string
	VoiceBucket() string
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	email    *email.Service
	media    mediaStore
	search   *search.Service
	export   *export.Service
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, authSvc *authpw.Service, emailSvc *email.Service, mediaStorage *media.Storage, searchSvc *search.Service, exportSvc *export.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		email:    emailSvc,
		search:   searchSvc,
		export:   exportSvc,
	}
	// A nil *Storage must stay a nil interface so the "not configured"
	// checks keep working.
	if mediaStorage != nil {
		s.media = mediaStorage
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) EmailService() *email.Service {
	return s.email
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// Bootstrap seeds reference data on an empty database: plans, categories,
// note types, and the printable notebook templates.
func (s *Service) Bootstrap(ctx context.Context) error {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return err
	}
	if len(templates) > 0 {
		return nil
	}

	plans := []store.UserPlan{
		{ID: "free", Name: "free", DisplayName: "Free", MaxNotebooks: 5, MaxNotesPerPage: 50, MaxFileSizeMB: 10, IsActive: true, SortOrder: 0},
		{ID: "pro", Name: "pro", DisplayName: "Pro", MaxNotebooks: 50, MaxNotesPerPage: 200, MaxFileSizeMB: 50, PriceMonthly: 4.99, PriceYearly: 49.90, IsActive: true, SortOrder: 1},
	}
	for _, plan := range plans {
		if err := s.store.InsertPlan(ctx, plan); err != nil {
			return err
		}
	}

	categories := []store.NotebookCategory{
		{ID: "student", Name: "Student", Color: "#2563eb", IsActive: true, SortOrder: 0},
		{ID: "business", Name: "Business", Color: "#475569", IsActive: true, SortOrder: 1},
		{ID: "creative", Name: "Creative", Color: "#d97706", IsActive: true, SortOrder: 2},
		{ID: "journal", Name: "Journal", Color: "#059669", IsActive: true, SortOrder: 3},
		{ID: "planner", Name: "Planner", Color: "#7c3aed", IsActive: true, SortOrder: 4},
	}
	for _, category := range categories {
		if err := s.store.InsertCategory(ctx, category); err != nil {
			return err
		}
	}

	noteTypes := []store.NoteType{
		{ID: "text", Name: "Text", Icon: "type", IsActive: true, SortOrder: 0},
		{ID: "photo", Name: "Photo", Icon: "camera", MaxSizeMB: 10, IsActive: true, SortOrder: 1},
		{ID: "voice", Name: "Voice", Icon: "mic", MaxSizeMB: 25, IsActive: true, SortOrder: 2},
	}
	for _, noteType := range noteTypes {
		if err := s.store.InsertNoteType(ctx, noteType); err != nil {
			return err
		}
	}

	templateSeeds := []store.NotebookTemplate{
		{ID: "NB001", CategoryID: "student", Title: "Student Grid Notebook", Description: "Perfect for taking class notes with grid layout", Pages: 48, CoverImage: "/covers/student-grid.jpg"},
		{ID: "NB002", CategoryID: "business", Title: "Business Planner", Description: "Professional planner for meetings and projects", Pages: 64, CoverImage: "/covers/business-planner.jpg"},
		{ID: "NB003", CategoryID: "creative", Title: "Creative Sketchbook", Description: "Blank pages for sketches and creative ideas", Pages: 96, CoverImage: "/covers/creative-sketch.jpg"},
		{ID: "NB004", CategoryID: "journal", Title: "Daily Journal", Description: "Lined pages for daily thoughts and reflections", Pages: 120, CoverImage: "/covers/daily-journal.jpg"},
		{ID: "NB005", CategoryID: "planner", Title: "Weekly Planner", Description: "Structured weekly planning pages", Pages: 52, CoverImage: "/covers/weekly-planner.jpg"},
	}
	for _, template := range templateSeeds {
		if err := s.store.InsertTemplate(ctx, template); err != nil {
			return err
		}
	}

	log.Println("bootstrap: seeded reference data")
	return nil
}

// --- sessions ---

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	profile, err := s.store.GetProfileByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Rotate: the presented token is single-use.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	profile, err := s.store.GetProfileByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   profile.ID,
		Email: profile.Email,
		Name:  profile.Name,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), profile.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       profile.ID,
		Email:        profile.Email,
		Name:         profile.Name,
		PlanID:       profile.PlanID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	profile, err := s.store.GetProfileByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    profile.ID,
		Email:     profile.Email,
		Name:      profile.Name,
		PlanID:    profile.PlanID,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- external login ---

// StartExternalLogin issues the signed state a provider redirect must echo
// back. A notebook id scanned before login rides along so registration can
// resume after the callback.
func (s *Service) StartExternalLogin(provider, pendingNotebook string) (string, error) {
	provider = strings.TrimSpace(strings.ToLower(provider))
	if provider == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "provider is required", nil)
	}
	return auth.IssueStateToken([]byte(s.cfg.JWTSecret), auth.StateClaims{
		Provider:        provider,
		PendingNotebook: strings.TrimSpace(pendingNotebook),
		Nonce:           util.NewID("st"),
		Exp:             time.Now().Add(10 * time.Minute).Unix(),
	})
}

// CompleteExternalLogin redeems the state echoed by the provider, ensures a
// verified profile, and opens a session. Returns the pending notebook id
// carried through the redirect, if any.
func (s *Service) CompleteExternalLogin(ctx context.Context, state, providerEmail, providerName string) (Session, string, error) {
	claims, err := auth.ParseStateToken([]byte(s.cfg.JWTSecret), state)
	if err != nil {
		return Session{}, "", err
	}
	if claims.Exp < time.Now().Unix() {
		return Session{}, "", auth.ErrExpiredToken
	}

	profile, err := s.authpw.EnsureExternalProfile(ctx, providerEmail, providerName)
	if err != nil {
		return Session{}, "", err
	}

	session, err := s.issueSession(ctx, profile)
	if err != nil {
		return Session{}, "", err
	}
	return session, claims.PendingNotebook, nil
}

// --- profile & reference data ---

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	profile, err := s.store.GetProfileByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, profile.PlanID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountNotebooks(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":            profile.ID,
		"email":         profile.Email,
		"name":          profile.Name,
		"avatar":        profile.Avatar,
		"createdAt":     profile.CreatedAt,
		"notebookCount": count,
		"plan": map[string]any{
			"id":              plan.ID,
			"displayName":     plan.DisplayName,
			"maxNotebooks":    plan.MaxNotebooks,
			"maxNotesPerPage": plan.MaxNotesPerPage,
			"maxFileSizeMb":   plan.MaxFileSizeMB,
			"expiresAt":       profile.PlanExpiresAt,
		},
	}, nil
}

func (s *Service) Reference(ctx context.Context) (map[string]any, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	noteTypes, err := s.store.ListNoteTypes(ctx)
	if err != nil {
		return nil, err
	}
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}

	templateItems := make([]map[string]any, 0, len(templates))
	for _, t := range templates {
		templateItems = append(templateItems, map[string]any{
			"id":          t.ID,
			"category":    t.CategoryID,
			"title":       t.Title,
			"description": t.Description,
			"pages":       t.Pages,
			"coverImage":  t.CoverImage,
		})
	}
	categoryItems := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		categoryItems = append(categoryItems, map[string]any{
			"id":    c.ID,
			"name":  c.Name,
			"color": c.Color,
		})
	}
	typeItems := make([]map[string]any, 0, len(noteTypes))
	for _, t := range noteTypes {
		typeItems = append(typeItems, map[string]any{
			"id":        t.ID,
			"name":      t.Name,
			"icon":      t.Icon,
			"maxSizeMb": t.MaxSizeMB,
		})
	}
	planItems := make([]map[string]any, 0, len(plans))
	for _, p := range plans {
		planItems = append(planItems, map[string]any{
			"id":              p.ID,
			"displayName":     p.DisplayName,
			"maxNotebooks":    p.MaxNotebooks,
			"maxNotesPerPage": p.MaxNotesPerPage,
			"maxFileSizeMb":   p.MaxFileSizeMB,
			"priceMonthly":    p.PriceMonthly,
			"priceYearly":     p.PriceYearly,
		})
	}

	return map[string]any{
		"templates":  templateItems,
		"categories": categoryItems,
		"noteTypes":  typeItems,
		"plans":      planItems,
	}, nil
}

// --- notebooks ---

// RegisterNotebook claims a physical notebook for the user. The notebook
// id carries its template as a prefix ("NB002-XYZ999" was printed from
// template NB002), which is how the title, category, and page count of a
// scanned notebook are derived.
func (s *Service) RegisterNotebook(ctx context.Context, userID, notebookID, nickname string) (map[string]any, error) {
	notebookID = strings.TrimSpace(notebookID)
	if notebookID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "notebookId is required", nil)
	}

	if _, err := s.store.GetNotebook(ctx, userID, notebookID); err == nil {
		return nil, domainError(http.StatusConflict, "ALREADY_REGISTERED", "Notebook is already registered", nil)
	} else if !store.ErrNotFound(err) {
		return nil, err
	}

	profile, err := s.store.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, profile.PlanID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountNotebooks(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count >= plan.MaxNotebooks {
		return nil, domainError(http.StatusForbidden, "LIMIT_REACHED", "Notebook limit for your plan reached", map[string]any{
			"maxNotebooks": plan.MaxNotebooks,
		})
	}

	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	var template *store.NotebookTemplate
	for i := range templates {
		if strings.HasPrefix(notebookID, templates[i].ID) {
			template = &templates[i]
			break
		}
	}
	if template == nil {
		return nil, domainError(http.StatusUnprocessableEntity, "UNKNOWN_TEMPLATE", "Notebook id does not match any known template", nil)
	}

	if strings.TrimSpace(nickname) == "" {
		nickname = notebookID
	}
	notebook := store.RegisteredNotebook{
		ID:         notebookID,
		UserID:     userID,
		Nickname:   strings.TrimSpace(nickname),
		CategoryID: template.CategoryID,
		Title:      template.Title,
		TotalPages: template.Pages,
		CoverImage: template.CoverImage,
	}
	if err := s.store.InsertNotebook(ctx, notebook); err != nil {
		return nil, err
	}

	created, err := s.store.GetNotebook(ctx, userID, notebookID)
	if err != nil {
		return nil, err
	}
	return notebookPayload(created), nil
}

func (s *Service) ListNotebooks(ctx context.Context, userID string) ([]map[string]any, error) {
	notebooks, err := s.store.ListNotebooks(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notebooks))
	for _, nb := range notebooks {
		items = append(items, notebookPayload(nb))
	}
	return items, nil
}

func (s *Service) GetNotebook(ctx context.Context, userID, notebookID string) (map[string]any, error) {
	notebook, err := s.store.GetNotebook(ctx, userID, notebookID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Notebook not found", nil)
		}
		return nil, err
	}
	payload := notebookPayload(notebook)

	groups, err := s.groupsPayload(ctx, userID, notebookID)
	if err != nil {
		return nil, err
	}
	payload["groups"] = groups
	return payload, nil
}

func (s *Service) DeleteNotebook(ctx context.Context, userID, notebookID string) error {
	deleted, err := s.store.DeleteNotebook(ctx, userID, notebookID)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Notebook not found", nil)
	}
	return nil
}

func notebookPayload(nb store.RegisteredNotebook) map[string]any {
	return map[string]any{
		"id":           nb.ID,
		"nickname":     nb.Nickname,
		"category":     nb.CategoryID,
		"title":        nb.Title,
		"totalPages":   nb.TotalPages,
		"coverImage":   nb.CoverImage,
		"registeredAt": nb.RegisteredAt,
		"lastUsed":     nb.LastUsed,
	}
}

// --- pages & notes ---

func pageID(notebookID string, pageNumber int) string {
	return fmt.Sprintf("%s-%d", notebookID, pageNumber)
}

// GetPage fetches a page and its notes, creating the page row on first
// access. Page rows exist lazily: a physical page only gets a row once
// someone opens it.
func (s *Service) GetPage(ctx context.Context, userID, notebookID string, pageNumber int) (map[string]any, error) {
	notebook, err := s.store.GetNotebook(ctx, userID, notebookID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Notebook not found", nil)
		}
		return nil, err
	}
	if pageNumber < 1 || pageNumber > notebook.TotalPages {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("page number must be between 1 and %d", notebook.TotalPages), nil)
	}

	id := pageID(notebookID, pageNumber)
	if err := s.store.InsertPage(ctx, store.NotePage{
		ID:         id,
		NotebookID: notebookID,
		PageNumber: pageNumber,
	}); err != nil {
		return nil, err
	}
	page, err := s.store.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListPageNotes(ctx, id)
	if err != nil {
		return nil, err
	}

	noteItems := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		noteItems = append(noteItems, notePayload(note))
	}
	return map[string]any{
		"id":           page.ID,
		"notebookId":   page.NotebookID,
		"pageNumber":   page.PageNumber,
		"lastModified": page.LastModified,
		"notes":        noteItems,
	}, nil
}

func (s *Service) AddNote(ctx context.Context, userID, notebookID string, pageNumber int, typeID, content string, duration *int, fileURL *string) (map[string]any, error) {
	notebook, err := s.store.GetNotebook(ctx, userID, notebookID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Notebook not found", nil)
		}
		return nil, err
	}
	if pageNumber < 1 || pageNumber > notebook.TotalPages {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("page number must be between 1 and %d", notebook.TotalPages), nil)
	}

	noteType, err := s.store.GetNoteType(ctx, strings.TrimSpace(typeID))
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown note type", nil)
		}
		return nil, err
	}
	if noteType.ID == "text" && strings.TrimSpace(content) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text notes need content", nil)
	}
	if noteType.ID != "text" && (fileURL == nil || strings.TrimSpace(*fileURL) == "") {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "photo and voice notes need an uploaded file", nil)
	}
	if noteType.ID == "voice" && s.cfg.MaxVoiceSeconds > 0 && duration != nil && *duration > s.cfg.MaxVoiceSeconds {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("voice notes are capped at %d seconds", s.cfg.MaxVoiceSeconds), nil)
	}

	id := pageID(notebookID, pageNumber)
	if err := s.store.InsertPage(ctx, store.NotePage{
		ID:         id,
		NotebookID: notebookID,
		PageNumber: pageNumber,
	}); err != nil {
		return nil, err
	}

	profile, err := s.store.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, profile.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.MaxNotesPerPage > 0 {
		noteCount, err := s.store.CountPageNotes(ctx, id)
		if err != nil {
			return nil, err
		}
		if noteCount >= plan.MaxNotesPerPage {
			return nil, domainError(http.StatusForbidden, "NOTE_LIMIT_REACHED", "Note limit for this page reached", map[string]any{
				"maxNotesPerPage": plan.MaxNotesPerPage,
			})
		}
	}

	note, err := s.store.InsertNote(ctx, store.Note{
		ID:       util.NewID("note"),
		PageID:   id,
		TypeID:   noteType.ID,
		Content:  content,
		Duration: duration,
		FileURL:  fileURL,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.TouchPageLastModified(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.TouchNotebookLastUsed(ctx, notebookID); err != nil {
		return nil, err
	}

	s.indexNote(note, notebook, pageNumber)
	return notePayload(note), nil
}

// UpdateNote edits a note's content and, optionally, replaces its file.
// A replacement runs upload, record update, then old-file delete, in that
// order: a failed record update removes the fresh upload again, and a
// failed old-file delete is logged and accepted since the record already
// points at the new file.
func (s *Service) UpdateNote(ctx context.Context, userID, noteID, content string, replacement *UploadInput) (map[string]any, error) {
	note, err := s.store.GetNoteForUser(ctx, userID, noteID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
		}
		return nil, err
	}

	var newFileURL *string
	if replacement != nil {
		if note.TypeID == "text" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text notes have no file to replace", nil)
		}
		uploaded, err := s.Upload(ctx, userID, replacement)
		if err != nil {
			return nil, err
		}
		newFileURL = &uploaded
	}

	updated, err := s.store.UpdateNote(ctx, noteID, content, newFileURL)
	if err != nil {
		if newFileURL != nil {
			s.removeStoredFile(ctx, *newFileURL)
		}
		return nil, err
	}

	if newFileURL != nil && note.FileURL != nil && *note.FileURL != *newFileURL {
		if !s.tryRemoveStoredFile(ctx, *note.FileURL) {
			log.Printf("note %s: previous file %s could not be removed", noteID, *note.FileURL)
		}
	}

	if err := s.store.TouchPageLastModified(ctx, note.PageID); err != nil {
		return nil, err
	}

	s.reindexNote(ctx, userID, updated)
	return notePayload(updated), nil
}

func (s *Service) DeleteNote(ctx context.Context, userID, noteID string) error {
	note, err := s.store.GetNoteForUser(ctx, userID, noteID)
	if err != nil {
		if store.ErrNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
		}
		return err
	}

	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	if note.FileURL != nil {
		s.removeStoredFile(ctx, *note.FileURL)
	}
	if err := s.store.TouchPageLastModified(ctx, note.PageID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	return nil
}

func notePayload(n store.Note) map[string]any {
	return map[string]any{
		"id":        n.ID,
		"pageId":    n.PageID,
		"type":      n.TypeID,
		"content":   n.Content,
		"duration":  n.Duration,
		"fileUrl":   n.FileURL,
		"createdAt": n.CreatedAt,
		"updatedAt": n.UpdatedAt,
	}
}

func (s *Service) indexNote(note store.Note, notebook store.RegisteredNotebook, pageNumber int) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:               note.ID,
		Content:          note.Content,
		TypeID:           note.TypeID,
		UserID:           notebook.UserID,
		NotebookID:       notebook.ID,
		NotebookNickname: notebook.Nickname,
		PageNumber:       pageNumber,
	})
}

func (s *Service) reindexNote(ctx context.Context, userID string, note store.Note) {
	if s.search == nil {
		return
	}
	page, err := s.store.GetPage(ctx, note.PageID)
	if err != nil {
		return
	}
	notebook, err := s.store.GetNotebook(ctx, userID, page.NotebookID)
	if err != nil {
		return
	}
	s.indexNote(note, notebook, page.PageNumber)
}

// --- page groups ---

func (s *Service) ListNotebookGroups(ctx context.Context, userID, notebookID string) ([]map[string]any, error) {
	if _, err := s.store.GetNotebook(ctx, userID, notebookID); err != nil {
		if store.ErrNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Notebook not found", nil)
		}
		return nil, err
	}
	return s.groupsPayload(ctx, userID, notebookID)
}

func (s *Service) groupsPayload(ctx context.Context, userID, notebookID string) ([]map[string]any, error) {
	groups, err := s.store.ListNotebookGroups(ctx, userID, notebookID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		pages, err := s.store.ListGroupPageNumbers(ctx, group.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, groupPayload(group, pages))
	}
	return items, nil
}

func (s *Service) CreatePageGroup(ctx context.Context, userID, notebookID, name, description string) (map[string]any, error) {
	if _, err := s.store.GetNotebook(ctx, userID, notebookID); err != nil {
		if store.ErrNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Notebook not found", nil)
		}
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "group name is required", nil)
	}

	count, err := s.store.CountNotebookGroups(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	group, err := s.store.InsertPageGroup(ctx, store.PageGroup{
		ID:          util.NewID("grp"),
		NotebookID:  notebookID,
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(description),
		SortOrder:   count,
	})
	if err != nil {
		return nil, err
	}
	return groupPayload(group, []int{}), nil
}

func (s *Service) UpdatePageGroup(ctx context.Context, userID, groupID, name, description string) (map[string]any, error) {
	if _, err := s.requireGroup(ctx, userID, groupID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "group name is required", nil)
	}
	group, err := s.store.UpdatePageGroup(ctx, groupID, name, strings.TrimSpace(description))
	if err != nil {
		return nil, err
	}
	pages, err := s.store.ListGroupPageNumbers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return groupPayload(group, pages), nil
}

func (s *Service) DeletePageGroup(ctx context.Context, userID, groupID string) error {
	if _, err := s.requireGroup(ctx, userID, groupID); err != nil {
		return err
	}
	return s.store.DeletePageGroup(ctx, groupID)
}

// AddPagesToGroup merges page numbers into a group. Duplicates, both
// within the request and against existing members, collapse silently; the
// returned page list is always ascending.
func (s *Service) AddPagesToGroup(ctx context.Context, userID, groupID string, pageNumbers []int) (map[string]any, error) {
	group, err := s.requireGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	notebook, err := s.store.GetNotebook(ctx, userID, group.NotebookID)
	if err != nil {
		return nil, err
	}

	deduped := dedupePages(pageNumbers)
	if len(deduped) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one page number is required", nil)
	}
	for _, n := range deduped {
		if n < 1 || n > notebook.TotalPages {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("page %d is outside this notebook (1-%d)", n, notebook.TotalPages), nil)
		}
	}

	if err := s.store.InsertGroupMembers(ctx, groupID, deduped, func() string { return util.NewID("pgm") }); err != nil {
		return nil, err
	}
	pages, err := s.store.ListGroupPageNumbers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return groupPayload(group, pages), nil
}

func (s *Service) RemovePagesFromGroup(ctx context.Context, userID, groupID string, pageNumbers []int) (map[string]any, error) {
	group, err := s.requireGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	deduped := dedupePages(pageNumbers)
	if len(deduped) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one page number is required", nil)
	}
	if err := s.store.DeleteGroupMembers(ctx, groupID, deduped); err != nil {
		return nil, err
	}
	pages, err := s.store.ListGroupPageNumbers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return groupPayload(group, pages), nil
}

func (s *Service) requireGroup(ctx context.Context, userID, groupID string) (store.PageGroup, error) {
	group, err := s.store.GetPageGroup(ctx, userID, groupID)
	if err != nil {
		if store.ErrNotFound(err) {
			return store.PageGroup{}, domainError(http.StatusNotFound, "NOT_FOUND", "Page group not found", nil)
		}
		return store.PageGroup{}, err
	}
	return group, nil
}

func groupPayload(group store.PageGroup, pages []int) map[string]any {
	if pages == nil {
		pages = []int{}
	}
	return map[string]any{
		"id":          group.ID,
		"notebookId":  group.NotebookID,
		"name":        group.Name,
		"description": group.Description,
		"sortOrder":   group.SortOrder,
		"pages":       pages,
		"createdAt":   group.CreatedAt,
		"updatedAt":   group.UpdatedAt,
	}
}

func dedupePages(pageNumbers []int) []int {
	seen := make(map[int]struct{}, len(pageNumbers))
	result := make([]int, 0, len(pageNumbers))
	for _, n := range pageNumbers {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	sort.Ints(result)
	return result
}

// --- uploads ---

// Upload stores a media file and returns its public URL. Photos are
// downscaled and re-encoded before storage; voice recordings are stored
// as received.
func (s *Service) Upload(ctx context.Context, userID string, in *UploadInput) (string, error) {
	if s.media == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	if len(in.Data) == 0 {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is empty", nil)
	}

	profile, err := s.store.GetProfileByID(ctx, userID)
	if err != nil {
		return "", err
	}
	plan, err := s.store.GetPlan(ctx, profile.PlanID)
	if err != nil {
		return "", err
	}
	if plan.MaxFileSizeMB > 0 && len(in.Data) > plan.MaxFileSizeMB*1024*1024 {
		return "", domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", fmt.Sprintf("files are capped at %d MB on your plan", plan.MaxFileSizeMB), map[string]any{
			"maxFileSizeMb": plan.MaxFileSizeMB,
		})
	}

	var bucket string
	data := in.Data
	contentType := in.ContentType
	ext := fileExt(in.Filename, in.ContentType)

	switch in.Kind {
	case "photo":
		bucket = s.media.PhotoBucket()
		if scaled, scaledType := media.Downscale(data, s.cfg.MaxImageWidth, s.cfg.ImageQuality); scaledType != "" {
			data = scaled
			contentType = scaledType
			ext = "jpg"
		}
	case "voice":
		bucket = s.media.VoiceBucket()
		if s.cfg.MaxVoiceSeconds > 0 && in.Duration != nil && *in.Duration > s.cfg.MaxVoiceSeconds {
			return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("voice notes are capped at %d seconds", s.cfg.MaxVoiceSeconds), nil)
		}
	default:
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be photo or voice", nil)
	}

	object := media.ObjectName(userID, ext)
	url, err := s.media.Upload(ctx, bucket, object, data, contentType)
	if err != nil {
		return "", err
	}
	return url, nil
}

// DeleteUpload removes a stored file by its public URL. Only objects under
// the caller's own prefix can be removed.
func (s *Service) DeleteUpload(ctx context.Context, userID, fileURL string) error {
	if s.media == nil {
		return domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	bucket, object, ok := s.media.ObjectFromURL(fileURL)
	if !ok || !strings.HasPrefix(object, userID+"/") {
		return domainError(http.StatusNotFound, "NOT_FOUND", "File not found", nil)
	}
	return s.media.Remove(ctx, bucket, object)
}

func (s *Service) removeStoredFile(ctx context.Context, fileURL string) {
	if !s.tryRemoveStoredFile(ctx, fileURL) {
		log.Printf("stored file %s could not be removed", fileURL)
	}
}

func (s *Service) tryRemoveStoredFile(ctx context.Context, fileURL string) bool {
	if s.media == nil {
		return true
	}
	bucket, object, ok := s.media.ObjectFromURL(fileURL)
	if !ok {
		return true
	}
	return s.media.Remove(ctx, bucket, object) == nil
}

func fileExt(filename, contentType string) string {
	if idx := strings.LastIndex(filename, "."); idx >= 0 && idx < len(filename)-1 {
		return strings.ToLower(filename[idx+1:])
	}
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "audio/webm":
		return "webm"
	case "audio/mpeg":
		return "mp3"
	}
	return "bin"
}

// --- search ---

func (s *Service) SearchNotes(ctx context.Context, session Session, text, notebookID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if notebookID != "" {
		if _, err := s.store.GetNotebook(ctx, session.UserID, notebookID); err != nil {
			if store.ErrNotFound(err) {
				return search.Response{}, domainError(http.StatusNotFound, "NOT_FOUND", "Notebook not found", nil)
			}
			return search.Response{}, err
		}
	}
	return s.search.Search(search.Query{
		Text:       text,
		UserID:     session.UserID,
		NotebookID: notebookID,
		Limit:      limit,
		Offset:     offset,
	}), nil
}

// --- export ---

func (s *Service) ExportPage(ctx context.Context, userID, notebookID string, pageNumber int, format export.Format) (*export.Result, error) {
	notebook, err := s.store.GetNotebook(ctx, userID, notebookID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Notebook not found", nil)
		}
		return nil, err
	}
	if pageNumber < 1 || pageNumber > notebook.TotalPages {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("page number must be between 1 and %d", notebook.TotalPages), nil)
	}

	page, err := s.exportPage(ctx, notebookID, pageNumber)
	if err != nil {
		return nil, err
	}
	doc := export.Document{
		Title:            fmt.Sprintf("%s - Page %d", notebook.Nickname, pageNumber),
		NotebookNickname: notebook.Nickname,
		GeneratedAt:      time.Now(),
		Pages:            []export.Page{page},
	}
	return s.runExport(doc, format)
}

func (s *Service) ExportGroup(ctx context.Context, userID, groupID string, format export.Format) (*export.Result, error) {
	group, err := s.requireGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	notebook, err := s.store.GetNotebook(ctx, userID, group.NotebookID)
	if err != nil {
		return nil, err
	}
	pageNumbers, err := s.store.ListGroupPageNumbers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	pages := make([]export.Page, 0, len(pageNumbers))
	for _, n := range pageNumbers {
		page, err := s.exportPage(ctx, notebook.ID, n)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	doc := export.Document{
		Title:            fmt.Sprintf("%s - %s", notebook.Nickname, group.Name),
		NotebookNickname: notebook.Nickname,
		GeneratedAt:      time.Now(),
		Pages:            pages,
	}
	return s.runExport(doc, format)
}

func (s *Service) exportPage(ctx context.Context, notebookID string, pageNumber int) (export.Page, error) {
	notes, err := s.store.ListPageNotes(ctx, pageID(notebookID, pageNumber))
	if err != nil && !store.ErrNotFound(err) {
		return export.Page{}, err
	}

	page := export.Page{Number: pageNumber}
	for _, note := range notes {
		page.Notes = append(page.Notes, export.Note{
			TypeName:  note.TypeID,
			Content:   note.Content,
			Duration:  note.Duration,
			FileURL:   note.FileURL,
			CreatedAt: note.CreatedAt,
		})
	}
	return page, nil
}

func (s *Service) runExport(doc export.Document, format export.Format) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	result, err := s.export.Export(doc, format)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrUnsupportedFormat):
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or html", nil)
		case errors.Is(err, export.ErrPDFDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF rendering is not available", nil)
		}
		return nil, err
	}
	return result, nil
}
