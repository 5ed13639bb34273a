package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------- profiles ----------

const profileColumns = `
	id, email, name, COALESCE(avatar, ''), COALESCE(plan_id, ''), plan_expires_at,
	COALESCE(password_hash, ''), is_external, is_email_verified,
	COALESCE(verification_token, ''), verification_expires_at, created_at
`

func scanProfile(row *sql.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.ID, &p.Email, &p.Name, &p.Avatar, &p.PlanID, &p.PlanExpiresAt,
		&p.PasswordHash, &p.IsExternal, &p.IsEmailVerified,
		&p.VerificationToken, &p.VerificationExpiresAt, &p.CreatedAt,
	)
	return p, err
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, userID string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=$1`, userID))
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, name, avatar, plan_id, password_hash, is_external, is_email_verified, verification_token)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, NULLIF($9, ''))
	`, p.ID, p.Email, p.Name, p.Avatar, p.PlanID, p.PasswordHash, p.IsExternal, p.IsEmailVerified, p.VerificationToken)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET verification_token=$2, verification_expires_at=$3 WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL
		WHERE verification_token=$1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET password_hash=$2 WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---------- sessions ----------

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---------- reference data ----------

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (UserPlan, error) {
	var p UserPlan
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, max_notebooks, COALESCE(max_notes_per_page, 0),
			COALESCE(max_file_size_mb, 0), COALESCE(features, '[]'::jsonb),
			COALESCE(price_monthly, 0), COALESCE(price_yearly, 0),
			is_active, COALESCE(sort_order, 0), created_at
		FROM user_plans WHERE id=$1
	`, planID).Scan(
		&p.ID, &p.Name, &p.DisplayName, &p.MaxNotebooks, &p.MaxNotesPerPage,
		&p.MaxFileSizeMB, &p.Features, &p.PriceMonthly, &p.PriceYearly,
		&p.IsActive, &p.SortOrder, &p.CreatedAt,
	)
	if err != nil {
		return UserPlan{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListPlans(ctx context.Context) ([]UserPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, max_notebooks, COALESCE(max_notes_per_page, 0),
			COALESCE(max_file_size_mb, 0), COALESCE(features, '[]'::jsonb),
			COALESCE(price_monthly, 0), COALESCE(price_yearly, 0),
			is_active, COALESCE(sort_order, 0), created_at
		FROM user_plans
		WHERE is_active
		ORDER BY sort_order
	`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	items := make([]UserPlan, 0)
	for rows.Next() {
		var p UserPlan
		if err := rows.Scan(
			&p.ID, &p.Name, &p.DisplayName, &p.MaxNotebooks, &p.MaxNotesPerPage,
			&p.MaxFileSizeMB, &p.Features, &p.PriceMonthly, &p.PriceYearly,
			&p.IsActive, &p.SortOrder, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]NotebookCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, COALESCE(description, ''), is_active, COALESCE(sort_order, 0), created_at
		FROM notebook_categories
		WHERE is_active
		ORDER BY sort_order
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]NotebookCategory, 0)
	for rows.Next() {
		var c NotebookCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.Description, &c.IsActive, &c.SortOrder, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListNoteTypes(ctx context.Context) ([]NoteType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(icon, ''), COALESCE(description, ''), COALESCE(max_size_mb, 0),
			is_active, COALESCE(sort_order, 0), created_at
		FROM note_types
		WHERE is_active
		ORDER BY sort_order
	`)
	if err != nil {
		return nil, fmt.Errorf("list note types: %w", err)
	}
	defer rows.Close()

	items := make([]NoteType, 0)
	for rows.Next() {
		var t NoteType
		if err := rows.Scan(&t.ID, &t.Name, &t.Icon, &t.Description, &t.MaxSizeMB, &t.IsActive, &t.SortOrder, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note type: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetNoteType(ctx context.Context, typeID string) (NoteType, error) {
	var t NoteType
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(icon, ''), COALESCE(description, ''), COALESCE(max_size_mb, 0),
			is_active, COALESCE(sort_order, 0), created_at
		FROM note_types WHERE id=$1
	`, typeID).Scan(&t.ID, &t.Name, &t.Icon, &t.Description, &t.MaxSizeMB, &t.IsActive, &t.SortOrder, &t.CreatedAt)
	if err != nil {
		return NoteType{}, err
	}
	return t, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]NotebookTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, title, COALESCE(description, ''), pages, COALESCE(cover_image, '')
		FROM notebook_templates
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]NotebookTemplate, 0)
	for rows.Next() {
		var t NotebookTemplate
		if err := rows.Scan(&t.ID, &t.CategoryID, &t.Title, &t.Description, &t.Pages, &t.CoverImage); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, t NotebookTemplate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notebook_templates (id, category_id, title, description, pages, cover_image)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''))
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.CategoryID, t.Title, t.Description, t.Pages, t.CoverImage)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertCategory(ctx context.Context, c NotebookCategory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notebook_categories (id, name, color, description, sort_order)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.Name, c.Color, c.Description, c.SortOrder)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertNoteType(ctx context.Context, t NoteType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_types (id, name, icon, description, max_size_mb, sort_order)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, 0), $6)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.Name, t.Icon, t.Description, t.MaxSizeMB, t.SortOrder)
	if err != nil {
		return fmt.Errorf("insert note type: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertPlan(ctx context.Context, p UserPlan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_plans (id, name, display_name, max_notebooks, max_notes_per_page, max_file_size_mb, features, price_monthly, price_yearly, sort_order)
		VALUES ($1, $2, $3, $4, NULLIF($5, 0), NULLIF($6, 0), $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.Name, p.DisplayName, p.MaxNotebooks, p.MaxNotesPerPage, p.MaxFileSizeMB, p.Features, p.PriceMonthly, p.PriceYearly, p.SortOrder)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// ---------- registered notebooks ----------

const notebookColumns = `
	id, user_id, nickname, category_id, title, total_pages, COALESCE(cover_image, ''), registered_at, last_used
`

func (s *PostgresStore) ListNotebooks(ctx context.Context, userID string) ([]RegisteredNotebook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notebookColumns+`
		FROM registered_notebooks
		WHERE user_id=$1
		ORDER BY registered_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	defer rows.Close()

	items := make([]RegisteredNotebook, 0)
	for rows.Next() {
		var nb RegisteredNotebook
		if err := rows.Scan(&nb.ID, &nb.UserID, &nb.Nickname, &nb.CategoryID, &nb.Title, &nb.TotalPages, &nb.CoverImage, &nb.RegisteredAt, &nb.LastUsed); err != nil {
			return nil, fmt.Errorf("scan notebook: %w", err)
		}
		items = append(items, nb)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetNotebook(ctx context.Context, userID, notebookID string) (RegisteredNotebook, error) {
	var nb RegisteredNotebook
	err := s.db.QueryRowContext(ctx, `
		SELECT `+notebookColumns+`
		FROM registered_notebooks
		WHERE user_id=$1 AND id=$2
	`, userID, notebookID).Scan(&nb.ID, &nb.UserID, &nb.Nickname, &nb.CategoryID, &nb.Title, &nb.TotalPages, &nb.CoverImage, &nb.RegisteredAt, &nb.LastUsed)
	if err != nil {
		return RegisteredNotebook{}, err
	}
	return nb, nil
}

func (s *PostgresStore) CountNotebooks(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registered_notebooks WHERE user_id=$1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notebooks: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertNotebook(ctx context.Context, nb RegisteredNotebook) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registered_notebooks (id, user_id, nickname, category_id, title, total_pages, cover_image)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, nb.ID, nb.UserID, nb.Nickname, nb.CategoryID, nb.Title, nb.TotalPages, nb.CoverImage)
	if err != nil {
		return fmt.Errorf("insert notebook: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNotebook(ctx context.Context, userID, notebookID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM registered_notebooks WHERE user_id=$1 AND id=$2`, userID, notebookID)
	if err != nil {
		return false, fmt.Errorf("delete notebook: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete notebook rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) TouchNotebookLastUsed(ctx context.Context, notebookID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE registered_notebooks SET last_used=NOW() WHERE id=$1`, notebookID)
	if err != nil {
		return fmt.Errorf("touch notebook: %w", err)
	}
	return nil
}

// ---------- pages and notes ----------

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (NotePage, error) {
	var p NotePage
	err := s.db.QueryRowContext(ctx, `
		SELECT id, notebook_id, page_number, COALESCE(last_modified, NOW())
		FROM note_pages WHERE id=$1
	`, pageID).Scan(&p.ID, &p.NotebookID, &p.PageNumber, &p.LastModified)
	if err != nil {
		return NotePage{}, err
	}
	return p, nil
}

// InsertPage is get-or-create friendly: a concurrent insert of the same
// deterministic page id is a no-op, never a duplicate row.
func (s *PostgresStore) InsertPage(ctx context.Context, p NotePage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_pages (id, notebook_id, page_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.NotebookID, p.PageNumber)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchPageLastModified(ctx context.Context, pageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE note_pages SET last_modified=NOW() WHERE id=$1`, pageID)
	if err != nil {
		return fmt.Errorf("touch page: %w", err)
	}
	return nil
}

const noteColumns = `
	id, page_id, type_id, content, duration, file_url, created_at, updated_at
`

func (s *PostgresStore) ListPageNotes(ctx context.Context, pageID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE page_id=$1
		ORDER BY created_at DESC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.PageID, &n.TypeID, &n.Content, &n.Duration, &n.FileURL, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CountPageNotes(ctx context.Context, pageID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes WHERE page_id=$1`, pageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, n Note) (Note, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notes (id, page_id, type_id, content, duration, file_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+noteColumns+`
	`, n.ID, n.PageID, n.TypeID, n.Content, n.Duration, n.FileURL).Scan(
		&n.ID, &n.PageID, &n.TypeID, &n.Content, &n.Duration, &n.FileURL, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return n, nil
}

// GetNoteForUser resolves a note only when the requester owns the notebook
// it belongs to.
func (s *PostgresStore) GetNoteForUser(ctx context.Context, userID, noteID string) (Note, error) {
	var n Note
	err := s.db.QueryRowContext(ctx, `
		SELECT n.id, n.page_id, n.type_id, n.content, n.duration, n.file_url, n.created_at, n.updated_at
		FROM notes n
		JOIN note_pages p ON p.id = n.page_id
		JOIN registered_notebooks nb ON nb.id = p.notebook_id
		WHERE n.id=$1 AND nb.user_id=$2
	`, noteID, userID).Scan(&n.ID, &n.PageID, &n.TypeID, &n.Content, &n.Duration, &n.FileURL, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return Note{}, err
	}
	return n, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, noteID, content string, fileURL *string) (Note, error) {
	var n Note
	err := s.db.QueryRowContext(ctx, `
		UPDATE notes
		SET content=$2, file_url=COALESCE($3, file_url), updated_at=NOW()
		WHERE id=$1
		RETURNING `+noteColumns+`
	`, noteID, content, fileURL).Scan(&n.ID, &n.PageID, &n.TypeID, &n.Content, &n.Duration, &n.FileURL, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return Note{}, fmt.Errorf("update note: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// ---------- page groups ----------

const groupColumns = `
	id, notebook_id, user_id, name, COALESCE(description, ''), COALESCE(sort_order, 0), created_at, updated_at
`

func (s *PostgresStore) ListPageGroups(ctx context.Context, userID string) ([]PageGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM page_groups
		WHERE user_id=$1
		ORDER BY sort_order
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list page groups: %w", err)
	}
	defer rows.Close()

	items := make([]PageGroup, 0)
	for rows.Next() {
		var g PageGroup
		if err := rows.Scan(&g.ID, &g.NotebookID, &g.UserID, &g.Name, &g.Description, &g.SortOrder, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page group: %w", err)
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListNotebookGroups(ctx context.Context, userID, notebookID string) ([]PageGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM page_groups
		WHERE user_id=$1 AND notebook_id=$2
		ORDER BY sort_order
	`, userID, notebookID)
	if err != nil {
		return nil, fmt.Errorf("list notebook groups: %w", err)
	}
	defer rows.Close()

	items := make([]PageGroup, 0)
	for rows.Next() {
		var g PageGroup
		if err := rows.Scan(&g.ID, &g.NotebookID, &g.UserID, &g.Name, &g.Description, &g.SortOrder, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page group: %w", err)
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetPageGroup(ctx context.Context, userID, groupID string) (PageGroup, error) {
	var g PageGroup
	err := s.db.QueryRowContext(ctx, `
		SELECT `+groupColumns+`
		FROM page_groups
		WHERE user_id=$1 AND id=$2
	`, userID, groupID).Scan(&g.ID, &g.NotebookID, &g.UserID, &g.Name, &g.Description, &g.SortOrder, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return PageGroup{}, err
	}
	return g, nil
}

func (s *PostgresStore) CountNotebookGroups(ctx context.Context, notebookID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM page_groups WHERE notebook_id=$1`, notebookID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertPageGroup(ctx context.Context, g PageGroup) (PageGroup, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO page_groups (id, notebook_id, user_id, name, description, sort_order)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		RETURNING `+groupColumns+`
	`, g.ID, g.NotebookID, g.UserID, g.Name, g.Description, g.SortOrder).Scan(
		&g.ID, &g.NotebookID, &g.UserID, &g.Name, &g.Description, &g.SortOrder, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return PageGroup{}, fmt.Errorf("insert page group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) UpdatePageGroup(ctx context.Context, groupID, name, description string) (PageGroup, error) {
	var g PageGroup
	err := s.db.QueryRowContext(ctx, `
		UPDATE page_groups
		SET name=$2, description=NULLIF($3, ''), updated_at=NOW()
		WHERE id=$1
		RETURNING `+groupColumns+`
	`, groupID, name, description).Scan(&g.ID, &g.NotebookID, &g.UserID, &g.Name, &g.Description, &g.SortOrder, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return PageGroup{}, fmt.Errorf("update page group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) DeletePageGroup(ctx context.Context, groupID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM page_groups WHERE id=$1`, groupID)
	if err != nil {
		return fmt.Errorf("delete page group: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGroupPageNumbers(ctx context.Context, groupID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_number FROM page_group_members
		WHERE group_id=$1
		ORDER BY page_number
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group pages: %w", err)
	}
	defer rows.Close()

	pages := make([]int, 0)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan group page: %w", err)
		}
		pages = append(pages, n)
	}
	return pages, rows.Err()
}

func (s *PostgresStore) ListGroupMembers(ctx context.Context, userID string) ([]PageGroupMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.group_id, m.page_number, m.created_at
		FROM page_group_members m
		JOIN page_groups g ON g.id = m.group_id
		WHERE g.user_id=$1
		ORDER BY m.page_number
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	items := make([]PageGroupMember, 0)
	for rows.Next() {
		var m PageGroupMember
		if err := rows.Scan(&m.ID, &m.GroupID, &m.PageNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertGroupMembers(ctx context.Context, groupID string, pageNumbers []int, newID func() string) error {
	if len(pageNumbers) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert members: %w", err)
	}
	for _, page := range pageNumbers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO page_group_members (id, group_id, page_number)
			VALUES ($1, $2, $3)
			ON CONFLICT (group_id, page_number) DO NOTHING
		`, newID(), groupID, page); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert group member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert members: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGroupMembers(ctx context.Context, groupID string, pageNumbers []int) error {
	if len(pageNumbers) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM page_group_members
		WHERE group_id=$1 AND page_number = ANY($2)
	`, groupID, pageNumbers)
	if err != nil {
		return fmt.Errorf("delete group members: %w", err)
	}
	return nil
}

// ErrNotFound reports whether err is the driver's no-rows sentinel.
func ErrNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
