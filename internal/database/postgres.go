package database

import (
	"database/sql"
)

type PgTaskChatRepository struct {
	conn *sql.DB
}

func NewPgTaskChatRepository(dsn string) (*PgTaskChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgTaskChatRepository{conn: db}, nil
}

func (db *PgTaskChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgTaskChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
