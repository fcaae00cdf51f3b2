package journal

import (
	"database/sql"

	"github.com/ansel1/merry"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func openSqliteDB(fileName string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", fileName)
	if err != nil {
		return nil, err
	}
	conn.SetMaxIdleConns(1)
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)
	return conn, err
}

func openSqliteDBx(fileName string) (*sqlx.DB, error) {
	conn, err := openSqliteDB(fileName)
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(conn, "sqlite3"), nil
}

func getNewInsertedID(r sql.Result) (int64, error) {
	id, err := r.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, merry.New("was not inserted")
	}
	return id, nil
}

// SQLCreate is the journal schema.
const SQLCreate = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS session
(
    session_id INTEGER PRIMARY KEY NOT NULL,
    created_at TIMESTAMP           NOT NULL,
    source     TEXT                NOT NULL DEFAULT '',
    banks      INTEGER             NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reading
(
    session_id  INTEGER   NOT NULL,
    pass        INTEGER   NOT NULL,
    bank        INTEGER   NOT NULL,
    channel     INTEGER   NOT NULL,
    tm          TIMESTAMP NOT NULL,
    temperature REAL      NOT NULL,
    voltage     REAL      NOT NULL,
    valid       BOOLEAN   NOT NULL,
    FOREIGN KEY (session_id) REFERENCES session (session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS reading_session_pass ON reading (session_id, pass);

CREATE TABLE IF NOT EXISTS raw_line
(
    raw_line_id INTEGER PRIMARY KEY NOT NULL,
    session_id  INTEGER             NOT NULL,
    tm          TIMESTAMP           NOT NULL,
    kind        TEXT                NOT NULL,
    line        TEXT                NOT NULL,
    err         TEXT                NOT NULL DEFAULT '',
    FOREIGN KEY (session_id) REFERENCES session (session_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS alert
(
    session_id  INTEGER   NOT NULL,
    bank        INTEGER   NOT NULL,
    channel     INTEGER   NOT NULL,
    start_pass  INTEGER   NOT NULL,
    end_pass    INTEGER   NOT NULL,
    start_time  TIMESTAMP NOT NULL,
    end_time    TIMESTAMP NOT NULL,
    min_voltage REAL      NOT NULL,
    active      BOOLEAN   NOT NULL,
    PRIMARY KEY (session_id, bank, channel, start_pass),
    FOREIGN KEY (session_id) REFERENCES session (session_id) ON DELETE CASCADE
);
`
