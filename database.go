package main

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	sqlInitMessages = `CREATE TABLE IF NOT EXISTS messages (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		date  INTEGER NOT NULL,
		audio TEXT    NOT NULL UNIQUE,
		text  TEXT
	)`
	sqlInsertMessage = `INSERT INTO messages (date, audio, text) VALUES (?, ?, ?)`
	sqlGetMessages   = `SELECT date, audio, text FROM messages ORDER BY id DESC`
)

// message is one completed recording as presented to the UI.
type message struct {
	Date  time.Time `json:"date"`
	Audio uuid.UUID `json:"audio"`
	Text  *string   `json:"text"`
}

// database owns the sqlite connection. The capture side writes and the web
// side reads, so every access goes through mu.
type database struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

func openDatabase(path string) (*database, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqlInitMessages); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising messages table: %w", err)
	}

	return &database{db: db, now: time.Now}, nil
}

func (d *database) insertMessage(text *string, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(sqlInsertMessage, d.now().Unix(), id.String(), text)
	return err
}

func (d *database) getMessages() ([]message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query(sqlGetMessages)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []message{}
	for rows.Next() {
		var (
			m    message
			date int64
			text sql.NullString
		)
		if err := rows.Scan(&date, &m.Audio, &text); err != nil {
			return nil, err
		}
		m.Date = time.Unix(date, 0).UTC()
		if text.Valid {
			m.Text = &text.String
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (d *database) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}
