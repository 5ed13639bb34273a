package store

import (
	"encoding/json"
	"time"
)

type Profile struct {
	ID                    string
	Email                 string
	Name                  string
	Avatar                string
	PlanID                string
	PlanExpiresAt         *time.Time
	PasswordHash          string
	IsExternal            bool
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
}

type UserPlan struct {
	ID              string
	Name            string
	DisplayName     string
	MaxNotebooks    int
	MaxNotesPerPage int
	MaxFileSizeMB   int
	Features        json.RawMessage
	PriceMonthly    float64
	PriceYearly     float64
	IsActive        bool
	SortOrder       int
	CreatedAt       time.Time
}

type NotebookCategory struct {
	ID          string
	Name        string
	Color       string
	Description string
	IsActive    bool
	SortOrder   int
	CreatedAt   time.Time
}

type NoteType struct {
	ID          string
	Name        string
	Icon        string
	Description string
	MaxSizeMB   int
	IsActive    bool
	SortOrder   int
	CreatedAt   time.Time
}

type NotebookTemplate struct {
	ID          string
	CategoryID  string
	Title       string
	Description string
	Pages       int
	CoverImage  string
}

type RegisteredNotebook struct {
	ID           string
	UserID       string
	Nickname     string
	CategoryID   string
	Title        string
	TotalPages   int
	CoverImage   string
	RegisteredAt time.Time
	LastUsed     *time.Time
}

// NotePage rows are created lazily on first access, id is
// "<notebookID>-<pageNumber>".
type NotePage struct {
	ID           string
	NotebookID   string
	PageNumber   int
	LastModified time.Time
}

type Note struct {
	ID        string
	PageID    string
	TypeID    string
	Content   string
	Duration  *int
	FileURL   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PageGroup struct {
	ID          string
	NotebookID  string
	UserID      string
	Name        string
	Description string
	SortOrder   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PageGroupMember links a group to one page number of its notebook.
type PageGroupMember struct {
	ID         string
	GroupID    string
	PageNumber int
	CreatedAt  time.Time
}
