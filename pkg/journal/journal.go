package journal

import (
	"context"
	"time"

	"github.com/ansel1/merry"
	"github.com/jmoiron/sqlx"
	"github.com/powerman/structlog"

	"github.com/itohio/muxscan/pkg/monitor"
	"github.com/itohio/muxscan/pkg/muxlog"
	"github.com/itohio/muxscan/pkg/sample"
)

var log = structlog.New(structlog.KeyUnit, "journal")

// Journal stores scan sessions in a SQLite database.
type Journal struct {
	db *sqlx.DB
}

type Session struct {
	SessionID int64     `db:"session_id"`
	CreatedAt time.Time `db:"created_at"`
	Source    string    `db:"source"`
	Banks     int       `db:"banks"`
}

type Reading struct {
	SessionID   int64     `db:"session_id"`
	Pass        int       `db:"pass"`
	Bank        int       `db:"bank"`
	Channel     int       `db:"channel"`
	Tm          time.Time `db:"tm"`
	Temperature float64   `db:"temperature"`
	Voltage     float64   `db:"voltage"`
	Valid       bool      `db:"valid"`
}

// Sample converts the stored row back into a pipeline reading.
func (x Reading) Sample() sample.Reading {
	return sample.Reading{
		Timestamp:   x.Tm,
		Pass:        x.Pass,
		Bank:        x.Bank,
		Channel:     x.Channel,
		Temperature: x.Temperature,
		Voltage:     x.Voltage,
		Valid:       x.Valid,
	}
}

type RawLine struct {
	RawLineID int64     `db:"raw_line_id"`
	SessionID int64     `db:"session_id"`
	Tm        time.Time `db:"tm"`
	Kind      string    `db:"kind"`
	Line      string    `db:"line"`
	Err       string    `db:"err"` // parse or transport error, empty for good lines
}

type Alert struct {
	SessionID  int64     `db:"session_id"`
	Bank       int       `db:"bank"`
	Channel    int       `db:"channel"`
	StartPass  int       `db:"start_pass"`
	EndPass    int       `db:"end_pass"`
	StartTime  time.Time `db:"start_time"`
	EndTime    time.Time `db:"end_time"`
	MinVoltage float64   `db:"min_voltage"`
	Active     bool      `db:"active"`
}

// Open opens or creates the journal database.
func Open(fileName string) (*Journal, error) {
	db, err := openSqliteDBx(fileName)
	if err != nil {
		return nil, merry.Prependf(err, "open journal %s", fileName)
	}
	if _, err := db.Exec(SQLCreate); err != nil {
		_ = db.Close()
		return nil, merry.Prepend(err, "create journal schema")
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// NewSession creates a session record and returns its id.
func (j *Journal) NewSession(ctx context.Context, source string, banks int) (int64, error) {
	r, err := j.db.ExecContext(ctx,
		`INSERT INTO session(created_at, source, banks) VALUES (?, ?, ?)`,
		time.Now(), source, banks)
	if err != nil {
		return 0, merry.Prepend(err, "insert session")
	}
	return getNewInsertedID(r)
}

func (j *Journal) ListSessions(ctx context.Context) (sessions []Session, err error) {
	err = j.db.SelectContext(ctx, &sessions, `SELECT * FROM session ORDER BY session_id`)
	return
}

func (j *Journal) GetSession(ctx context.Context, sessionID int64) (session Session, err error) {
	err = j.db.GetContext(ctx, &session, `SELECT * FROM session WHERE session_id = ?`, sessionID)
	return
}

// SaveReadings stores readings in one transaction.
func (j *Journal) SaveReadings(ctx context.Context, sessionID int64, readings []sample.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return merry.Prepend(err, "begin")
	}
	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO reading(session_id, pass, bank, channel, tm, temperature, voltage, valid) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return merry.Prepend(err, "prepare")
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, sessionID, r.Pass, r.Bank, r.Channel, r.Timestamp, r.Temperature, r.Voltage, r.Valid); err != nil {
			_ = tx.Rollback()
			return merry.Prependf(err, "insert reading pass %d bank %d channel %d", r.Pass, r.Bank, r.Channel)
		}
	}
	return tx.Commit()
}

func (j *Journal) ListReadings(ctx context.Context, sessionID int64) (readings []Reading, err error) {
	err = j.db.SelectContext(ctx, &readings,
		`SELECT * FROM reading WHERE session_id = ? ORDER BY pass, bank, channel`, sessionID)
	return
}

// ListPass returns the readings of one pass ordered by bank and channel.
func (j *Journal) ListPass(ctx context.Context, sessionID int64, pass int) (readings []Reading, err error) {
	err = j.db.SelectContext(ctx, &readings,
		`SELECT * FROM reading WHERE session_id = ? AND pass = ? ORDER BY bank, channel`, sessionID, pass)
	return
}

// SaveRawLine stores one line as received from the device along with its
// parse or transport error.
func (j *Journal) SaveRawLine(ctx context.Context, sessionID int64, msg muxlog.Message) error {
	var msgErr string
	if msg.Err != nil {
		msgErr = msg.Err.Error()
	}
	r, err := j.db.ExecContext(ctx,
		`INSERT INTO raw_line(session_id, tm, kind, line, err) VALUES (?, ?, ?, ?, ?)`,
		sessionID, msg.Time, msg.Kind.String(), msg.Line, msgErr)
	if err != nil {
		return merry.Prepend(err, "insert raw line")
	}
	_, err = getNewInsertedID(r)
	return err
}

func (j *Journal) ListRawLines(ctx context.Context, sessionID int64) (lines []RawLine, err error) {
	err = j.db.SelectContext(ctx, &lines,
		`SELECT * FROM raw_line WHERE session_id = ? ORDER BY raw_line_id`, sessionID)
	return
}

// SaveAlert inserts an alert or updates the one with the same channel and start pass.
func (j *Journal) SaveAlert(ctx context.Context, sessionID int64, a monitor.Alert) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO alert(session_id, bank, channel, start_pass, end_pass, start_time, end_time, min_voltage, active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id, bank, channel, start_pass) DO UPDATE SET
    end_pass    = excluded.end_pass,
    end_time    = excluded.end_time,
    min_voltage = excluded.min_voltage,
    active      = excluded.active`,
		sessionID, a.Bank, a.Channel, a.StartPass, a.EndPass, a.StartTime, a.EndTime, a.MinVoltage, a.Active)
	if err != nil {
		return merry.Prependf(err, "save alert bank %d channel %d", a.Bank, a.Channel)
	}
	return nil
}

func (j *Journal) ListAlerts(ctx context.Context, sessionID int64) (alerts []Alert, err error) {
	err = j.db.SelectContext(ctx, &alerts,
		`SELECT * FROM alert WHERE session_id = ? ORDER BY start_pass, bank, channel`, sessionID)
	return
}

// NewRecorder returns a pass-through stage that stores every reading of the
// session, one transaction per pass, and forwards it unchanged.
func (j *Journal) NewRecorder(ctx context.Context, sessionID int64, bufSize int) func(in <-chan sample.Reading) <-chan sample.Reading {
	if bufSize <= 0 {
		bufSize = sample.DefaultBufferSize
	}

	return func(in <-chan sample.Reading) <-chan sample.Reading {
		out := make(chan sample.Reading, bufSize)

		go func() {
			defer close(out)

			var batch []sample.Reading
			flush := func() {
				if err := j.SaveReadings(ctx, sessionID, batch); err != nil {
					log.PrintErr("failed to save readings", "err", err, "count", len(batch))
				}
				batch = batch[:0]
			}

			for r := range in {
				if len(batch) > 0 && batch[0].Pass != r.Pass {
					flush()
				}
				batch = append(batch, r)

				select {
				case out <- r:
				case <-time.After(time.Second):
					log.Printf("Recorder output channel full, dropping reading")
				}
			}
			flush()
		}()

		return out
	}
}
