// Package journal records detected notes in a SQLite database, grouped into
// listening sessions.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/chroma"
	"github.com/AaronDesignStudio/play-the-chord/detector"
	"github.com/AaronDesignStudio/play-the-chord/logging"
)

// ErrUnknownSession is returned when a session ID has no row.
var ErrUnknownSession = errors.New("journal: unknown session")

const errStoreClosed = "journal: store is closed"

// Session is one StartListening..StopListening span.
type Session struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Source    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// NoteRecord is a persisted NoteEvent.
type NoteRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"type:varchar(36);index:idx_note_session"`
	PitchClass  string `gorm:"type:varchar(2)"`
	TimestampMs int64  `gorm:"index:idx_note_time"`
	Frequency   float64
	Confidence  float64
}

// TableName keeps the table name short.
func (NoteRecord) TableName() string { return "notes" }

// Class parses the stored pitch class.
func (r NoteRecord) Class() (chroma.PitchClass, error) {
	return chroma.ParsePitchClass(r.PitchClass)
}

// Store is a note journal backed by SQLite.
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger logging.Logger
}

// Open opens or creates the journal at path and migrates its schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("journal: get sql.DB: %w", err)
	}
	// One writer; SQLite serialises anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Session{}, &NoteRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("journal: auto migrate: %w", err)
	}

	return &Store{
		db:    db,
		sqlDB: sqlDB,
		logger: logging.WithFields(logging.Fields{
			"component": "journal",
			"path":      path,
		}),
	}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	err := s.sqlDB.Close()
	s.sqlDB = nil
	s.db = nil
	return err
}

// BeginSession creates a session for the named source and returns its ID.
func (s *Store) BeginSession(source string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New(errStoreClosed)
	}
	session := Session{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&session).Error; err != nil {
		return "", fmt.Errorf("journal: create session: %w", err)
	}
	s.logger.Debug("Session started", logging.Fields{"session_id": session.ID, "source": source})
	return session.ID, nil
}

// EndSession stamps the session end time.
func (s *Store) EndSession(sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New(errStoreClosed)
	}
	res := s.db.Model(&Session{}).Where("id = ?", sessionID).Update("ended_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("journal: end session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return nil
}

// Session returns the session row.
func (s *Store) Session(sessionID string) (Session, error) {
	if s == nil || s.db == nil {
		return Session{}, errors.New(errStoreClosed)
	}
	var session Session
	err := s.db.Where("id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if err != nil {
		return Session{}, fmt.Errorf("journal: query session: %w", err)
	}
	return session, nil
}

// Sessions lists every session, oldest first.
func (s *Store) Sessions() ([]Session, error) {
	if s == nil || s.db == nil {
		return nil, errors.New(errStoreClosed)
	}
	var sessions []Session
	if err := s.db.Order("started_at").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("journal: query sessions: %w", err)
	}
	return sessions, nil
}

// Record appends an event to the session.
func (s *Store) Record(sessionID string, event detector.NoteEvent) error {
	if s == nil || s.db == nil {
		return errors.New(errStoreClosed)
	}
	if !event.PitchClass.Valid() {
		return fmt.Errorf("journal: invalid pitch class %d", int(event.PitchClass))
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Session{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
			return fmt.Errorf("journal: query session: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}

		rec := NoteRecord{
			SessionID:   sessionID,
			PitchClass:  event.PitchClass.String(),
			TimestampMs: event.TimestampMs,
			Frequency:   event.Frequency,
			Confidence:  event.Confidence,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("journal: insert note: %w", err)
		}
		return nil
	})
}

// Notes returns the session's notes in emission order.
func (s *Store) Notes(sessionID string) ([]NoteRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New(errStoreClosed)
	}
	var rows []NoteRecord
	if err := s.db.Where("session_id = ?", sessionID).Order("timestamp_ms, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: query notes: %w", err)
	}
	return rows, nil
}

// Histogram counts the session's notes per pitch class.
func (s *Store) Histogram(sessionID string) (map[chroma.PitchClass]int, error) {
	rows, err := s.Notes(sessionID)
	if err != nil {
		return nil, err
	}
	out := make(map[chroma.PitchClass]int)
	for _, r := range rows {
		pc, err := r.Class()
		if err != nil {
			s.logger.Warn("Skipping note with unknown pitch class", logging.Fields{"pitch_class": r.PitchClass})
			continue
		}
		out[pc]++
	}
	return out, nil
}
