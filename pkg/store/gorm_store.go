package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"lexai/pkg/domain"
)

const migrateLockID int64 = 53817204

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db       *gorm.DB
	postgres bool
}

// OpenDialector picks the GORM driver for a DSN.
// "sqlite:<path>", "file:<path>" and "*.db" use SQLite; everything else is Postgres.
func OpenDialector(dsn string) (gorm.Dialector, bool) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), false
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"):
		return sqlite.Open(dsn), false
	default:
		return postgres.Open(dsn), true
	}
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	dialector, isPostgres := OpenDialector(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if !isPostgres {
		// SQLite allows one writer; serialize through a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	s := &GormStore{db: db, postgres: isPostgres}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle so other components (vector index) share the pool.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// IsPostgres reports whether the store runs on Postgres.
func (s *GormStore) IsPostgres() bool {
	return s.postgres
}

func (s *GormStore) migrate() error {
	run := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &DocumentModel{}, &ChatModel{}, &MessageModel{}, &ArgumentModel{}, &LawSearchModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if !s.postgres {
		return run(s.db)
	}
	return WithMigrationLock(s.db, run)
}

// WithMigrationLock runs fn while holding a Postgres advisory lock so concurrent
// instances never migrate at the same time.
func WithMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a user; duplicate username or email yields ErrConflict.
func (s *GormStore) CreateUser(ctx context.Context, u NewUser) (domain.User, error) {
	model := UserModel{
		Username:     strings.TrimSpace(u.Username),
		PasswordHash: u.PasswordHash,
		Email:        strings.TrimSpace(u.Email),
		Name:         u.Name,
		CreatedAt:    time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).
			Where("LOWER(username) = ? OR LOWER(email) = ?", foldKey(model.Username), foldKey(model.Email)).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrConflict
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || isUniqueViolation(err) {
			return domain.User{}, ErrConflict
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

func (s *GormStore) GetUser(ctx context.Context, id uint64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("LOWER(username) = ?", foldKey(username)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) CreateDocument(ctx context.Context, d NewDocument) (domain.Document, error) {
	model := DocumentModel{
		UserID:     d.UserID,
		Title:      d.Title,
		Content:    d.Content,
		Metadata:   datatypes.NewJSONType(d.Metadata),
		StorageKey: d.Metadata.StorageKey,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Document{}, err
	}
	return documentFromModel(model), nil
}

func (s *GormStore) GetDocument(ctx context.Context, id uint64) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

func (s *GormStore) ListDocumentsByUser(ctx context.Context, userID uint64) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// DeleteDocument removes the document, its chats and their messages in one transaction.
func (s *GormStore) DeleteDocument(ctx context.Context, id uint64) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chatIDs := tx.Model(&ChatModel{}).Select("id").Where("document_id = ?", id)
		if err := tx.Where("chat_id IN (?)", chatIDs).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&ChatModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&DocumentModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// CreateChat inserts a chat bound to an existing document.
func (s *GormStore) CreateChat(ctx context.Context, userID, documentID uint64) (domain.Chat, error) {
	model := ChatModel{UserID: userID, DocumentID: documentID, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&DocumentModel{}).Where("id = ?", documentID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return chatFromModel(model), nil
}

func (s *GormStore) GetChat(ctx context.Context, id uint64) (domain.Chat, bool, error) {
	var model ChatModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

func (s *GormStore) ListChatsByDocument(ctx context.Context, documentID uint64) ([]domain.Chat, error) {
	var models []ChatModel
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Chat, 0, len(models))
	for _, m := range models {
		res = append(res, chatFromModel(m))
	}
	return res, nil
}

// CreateMessage appends a message to an existing chat.
func (s *GormStore) CreateMessage(ctx context.Context, chatID uint64, role domain.MessageRole, content string) (domain.Message, error) {
	model := MessageModel{
		ChatID:    chatID,
		Content:   content,
		Role:      string(role),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ChatModel{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Message{}, err
	}
	return messageFromModel(model), nil
}

// ListMessagesByChat returns messages by creation time, insertion id breaking ties.
func (s *GormStore) ListMessagesByChat(ctx context.Context, chatID uint64) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

func (s *GormStore) CreateArgument(ctx context.Context, a NewArgument) (domain.Argument, error) {
	model := ArgumentModel{
		UserID:           a.UserID,
		Title:            a.Title,
		CaseDetails:      datatypes.NewJSONType(a.CaseDetails),
		GeneratedContent: a.GeneratedContent,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Argument{}, err
	}
	return argumentFromModel(model), nil
}

func (s *GormStore) GetArgument(ctx context.Context, id uint64) (domain.Argument, bool, error) {
	var model ArgumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Argument{}, false, nil
		}
		return domain.Argument{}, false, err
	}
	return argumentFromModel(model), true, nil
}

func (s *GormStore) ListArgumentsByUser(ctx context.Context, userID uint64) ([]domain.Argument, error) {
	var models []ArgumentModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Argument, 0, len(models))
	for _, m := range models {
		res = append(res, argumentFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteArgument(ctx context.Context, id uint64) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&ArgumentModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) CreateLawSearch(ctx context.Context, ls NewLawSearch) (domain.LawSearch, error) {
	model := LawSearchModel{
		UserID:    ls.UserID,
		Query:     ls.Query,
		Filters:   datatypes.NewJSONSlice(ls.Filters),
		Results:   datatypes.NewJSONType(ls.Results),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.LawSearch{}, err
	}
	return lawSearchFromModel(model), nil
}

func (s *GormStore) GetLawSearch(ctx context.Context, id uint64) (domain.LawSearch, bool, error) {
	var model LawSearchModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LawSearch{}, false, nil
		}
		return domain.LawSearch{}, false, err
	}
	return lawSearchFromModel(model), true, nil
}

func (s *GormStore) ListLawSearchesByUser(ctx context.Context, userID uint64) ([]domain.LawSearch, error) {
	var models []LawSearchModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LawSearch, 0, len(models))
	for _, m := range models {
		res = append(res, lawSearchFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteLawSearch(ctx context.Context, id uint64) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&LawSearchModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
