// Package resumes хранит резюме пользователей в PostgreSQL. Используется
// для проверки владения перед скачиванием и для сохранения сгенерированных резюме.
package resumes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/resume-entitlement/internal/models"
)

// ErrNotFound - резюме не найдено или принадлежит другому пользователю.
var ErrNotFound = errors.New("resume not found")

// Connect открывает пул соединений и проверяет доступность базы.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	const op = "resumes.Connect"
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return db, nil
}

// Repository - репозиторий резюме.
type Repository struct {
	db *sql.DB
}

// New создает Repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Owns сообщает, принадлежит ли резюме resumeID пользователю userID.
// Идентификатор не в формате UUID означает отсутствие резюме.
func (r *Repository) Owns(ctx context.Context, userID, resumeID string) (bool, error) {
	const op = "resumes.Owns"
	if _, err := uuid.Parse(resumeID); err != nil {
		return false, nil
	}
	var owned bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM resumes WHERE id = $1 AND user_id = $2)`,
		resumeID, userID,
	).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return owned, nil
}

// Create сохраняет резюме и возвращает его с присвоенным идентификатором.
func (r *Repository) Create(ctx context.Context, userID, title, content string) (models.Resume, error) {
	const op = "resumes.Create"
	res := models.Resume{UserID: userID, Title: title, Content: content}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO resumes (user_id, title, content) VALUES ($1, $2, $3) RETURNING id, created_at`,
		userID, title, content,
	).Scan(&res.ID, &res.CreatedAt)
	if err != nil {
		return models.Resume{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Get возвращает резюме владельца.
func (r *Repository) Get(ctx context.Context, userID, resumeID string) (models.Resume, error) {
	const op = "resumes.Get"
	if _, err := uuid.Parse(resumeID); err != nil {
		return models.Resume{}, ErrNotFound
	}
	res := models.Resume{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, content, created_at FROM resumes WHERE id = $1 AND user_id = $2`,
		resumeID, userID,
	).Scan(&res.ID, &res.UserID, &res.Title, &res.Content, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Resume{}, ErrNotFound
	}
	if err != nil {
		return models.Resume{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}
