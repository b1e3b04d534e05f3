package dal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"birthdaybot/apperror"
	"birthdaybot/logger"
	"birthdaybot/models"

	_ "github.com/lib/pq" // postgres driver for database/sql
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 1 * time.Minute
)

// Store is the persistence layer for servers and birthdays. All methods are
// safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Filter narrows FindBirthdaysWithDate. Empty fields match everything.
type Filter struct {
	ServerID string
	UserID   string
}

// New wraps an already migrated connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InitDB connects to the database named by dsn and migrates it. A postgres://
// or postgresql:// URL selects postgres, anything else is a sqlite path.
func InitDB(dsn string, log logrus.FieldLogger) (*Store, error) {
	cfg := &gorm.Config{
		Logger: gormlogger.New(logger.GormWriter{Log: log}, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var dialector gorm.Dialector
	if isPostgres(dsn) {
		conn, err := openPostgres(dsn)
		if err != nil {
			return nil, err
		}
		dialector = postgres.New(postgres.Config{Conn: conn})
	} else {
		dialector = sqlite.Open(sqliteDSN(dsn))
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("Connected to database.")

	if err := db.AutoMigrate(&models.Server{}, &models.Birthday{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("Migrated database.")

	return New(db), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func openPostgres(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	conn.SetMaxOpenConns(defaultMaxOpenConns)
	conn.SetMaxIdleConns(defaultMaxIdleConns)
	conn.SetConnMaxLifetime(defaultConnMaxLifetime)
	conn.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// sqliteDSN turns on foreign keys so deleting a server cascades.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func wrap(op string, err error) error {
	return apperror.Storage(op, err)
}

// RequireServer creates the server row if it doesn't exist yet.
func (s *Store) RequireServer(ctx context.Context, serverID string) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Server{ID: serverID}).Error
	if err != nil {
		return wrap("require server", err)
	}
	return nil
}

// FindServerConfig gets the configuration for the given server.
func (s *Store) FindServerConfig(ctx context.Context, serverID string) (*models.Server, error) {
	var server models.Server
	err := s.db.WithContext(ctx).
		Where(&models.Server{ID: serverID}).
		Take(&server).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("server", serverID)
	}
	if err != nil {
		return nil, wrap("find server config", err)
	}
	return &server, nil
}

// FindServerConfigs gets the configuration of every listed server, keyed by
// server ID. Unknown IDs are absent from the result.
func (s *Store) FindServerConfigs(ctx context.Context, serverIDs []string) (map[string]models.Server, error) {
	servers := make(map[string]models.Server, len(serverIDs))
	if len(serverIDs) == 0 {
		return servers, nil
	}

	var rows []models.Server
	err := s.db.WithContext(ctx).Where("id IN ?", serverIDs).Find(&rows).Error
	if err != nil {
		return nil, wrap("find server configs", err)
	}
	for _, row := range rows {
		servers[row.ID] = row
	}
	return servers, nil
}

// UpsertServerConfig inserts the server or overwrites the named columns
// ("channel_id", "role_id"). A nil field clears the column.
func (s *Store) UpsertServerConfig(ctx context.Context, server models.Server, columns ...string) error {
	q := s.db.WithContext(ctx)
	if len(columns) > 0 {
		q = q.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		})
	} else {
		q = q.Clauses(clause.OnConflict{DoNothing: true})
	}
	if err := q.Omit("Birthdays").Create(&server).Error; err != nil {
		return wrap("upsert server config", err)
	}
	return nil
}

// SetServerRole sets or, with nil, clears the birthday role.
func (s *Store) SetServerRole(ctx context.Context, serverID string, roleID *string) error {
	return s.UpsertServerConfig(ctx, models.Server{ID: serverID, RoleID: roleID}, "role_id")
}

// SetServerChannel sets or, with nil, clears the announcement channel.
func (s *Store) SetServerChannel(ctx context.Context, serverID string, channelID *string) error {
	return s.UpsertServerConfig(ctx, models.Server{ID: serverID, ChannelID: channelID}, "channel_id")
}

// DeleteServerConfig deletes the server and all of its birthdays. It returns
// the records whose flag was set at the moment of deletion, so their role can
// still be revoked.
func (s *Store) DeleteServerConfig(ctx context.Context, serverID string) ([]models.Birthday, error) {
	var active []models.Birthday
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("server_id = ? AND is_birthday = ?", serverID, true).
			Find(&active).Error
		if err != nil {
			return err
		}
		if err := tx.Where("server_id = ?", serverID).Delete(&models.Birthday{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", serverID).Delete(&models.Server{}).Error
	})
	if err != nil {
		return nil, wrap("delete server config", err)
	}
	return active, nil
}

// FindBirthday gets the birthday record for the given server & user.
func (s *Store) FindBirthday(ctx context.Context, serverID, userID string) (*models.Birthday, error) {
	var birthday models.Birthday
	err := s.db.WithContext(ctx).
		Where(&models.Birthday{ServerID: serverID, UserID: userID}).
		Take(&birthday).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("birthday", serverID+"/"+userID)
	}
	if err != nil {
		return nil, wrap("find birthday", err)
	}
	return &birthday, nil
}

// UpsertBirthday inserts or updates the date, time zone and update timestamp
// of the given birthday. The server row is created if missing.
func (s *Store) UpsertBirthday(ctx context.Context, birthday models.Birthday) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Server{ID: birthday.ServerID}).Error
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "server_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"birthday", "time_zone", "updated_on"}),
		}).Create(&birthday).Error
	})
	if err != nil {
		return wrap("upsert birthday", err)
	}
	return nil
}

// ClearBirthday removes the date from a birthday record and stamps the edit.
// The record itself, and with it the edit cooldown, is kept.
func (s *Store) ClearBirthday(ctx context.Context, serverID, userID string, now time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Birthday{}).
		Where("server_id = ? AND user_id = ?", serverID, userID).
		Updates(map[string]interface{}{
			"birthday":   nil,
			"updated_on": now,
		})
	if res.Error != nil {
		return wrap("clear birthday", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("birthday", serverID+"/"+userID)
	}
	return nil
}

// SetBirthdayActive sets the is_birthday flag of exactly one record. It does
// not count as an edit, so updated_on is left alone. A deleted record yields
// apperror.ErrNotFound.
func (s *Store) SetBirthdayActive(ctx context.Context, serverID, userID string, active bool) error {
	res := s.db.WithContext(ctx).
		Model(&models.Birthday{}).
		Where("server_id = ? AND user_id = ?", serverID, userID).
		UpdateColumn("is_birthday", active)
	if res.Error != nil {
		return wrap("set birthday active", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("birthday", serverID+"/"+userID)
	}
	return nil
}

// FindBirthdaysWithDate lists every record that has a birthday set,
// optionally restricted to one server or one server & user.
func (s *Store) FindBirthdaysWithDate(ctx context.Context, filter Filter) ([]models.Birthday, error) {
	q := s.db.WithContext(ctx).Where("birthday IS NOT NULL")
	if filter.ServerID != "" {
		q = q.Where("server_id = ?", filter.ServerID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}

	var birthdays []models.Birthday
	if err := q.Order("server_id, user_id").Find(&birthdays).Error; err != nil {
		return nil, wrap("find birthdays", err)
	}
	return birthdays, nil
}
