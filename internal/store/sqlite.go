package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	migrate "github.com/rubenv/sql-migrate"

	"unsubscan/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an analysis does not exist or belongs to another user.
var ErrNotFound = errors.New("analysis not found")

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_analyses",
			Up: []string{`
CREATE TABLE analyses (
	id                    TEXT PRIMARY KEY,
	user_email            TEXT NOT NULL,
	date_range_start      TEXT NOT NULL,
	date_range_end        TEXT NOT NULL,
	total_emails          INTEGER NOT NULL,
	unsubscribable_emails INTEGER NOT NULL,
	percentage            INTEGER NOT NULL,
	unique_senders        INTEGER NOT NULL,
	created_at            TEXT NOT NULL DEFAULT (datetime('now'))
)`, `
CREATE INDEX idx_analyses_user ON analyses (user_email, created_at)`, `
CREATE TABLE analysis_senders (
	analysis_id      TEXT NOT NULL REFERENCES analyses (id) ON DELETE CASCADE,
	position         INTEGER NOT NULL,
	sender_name      TEXT NOT NULL,
	sender_email     TEXT NOT NULL,
	email_count      INTEGER NOT NULL,
	unsubscribe_url  TEXT NOT NULL DEFAULT '',
	unsubscribe_type TEXT NOT NULL,
	clicked_at       TEXT,
	PRIMARY KEY (analysis_id, position)
)`, `
CREATE INDEX idx_analysis_senders_email ON analysis_senders (analysis_id, sender_email)`,
			},
			Down: []string{
				`DROP TABLE analysis_senders`,
				`DROP TABLE analyses`,
			},
		},
	},
}

// SQLiteStore persists analysis reports in a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at the given path and runs migrations.
func NewSQLiteStore(dbPath string, log zerolog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db directory")
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set WAL mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}

	applied, err := migrate.Exec(db.DB, "sqlite3", migrations, migrate.Up)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate schema")
	}
	log.Debug().Str("path", dbPath).Int("migrations", applied).Msg("store ready")

	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveParams describes one finished scan.
type SaveParams struct {
	UserEmail      string
	DateRangeStart string
	DateRangeEnd   string
	Report         model.AnalysisReport
}

// SaveAnalysis writes the report and its senders in one transaction and returns the new id.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, p SaveParams) (string, error) {
	id := uuid.NewString()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "begin save")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analyses (id, user_email, date_range_start, date_range_end,
			total_emails, unsubscribable_emails, percentage, unique_senders)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.UserEmail, p.DateRangeStart, p.DateRangeEnd,
		p.Report.TotalMessages, p.Report.UnsubscribableMessages, p.Report.Percentage, p.Report.UniqueSenders,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert analysis")
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO analysis_senders (analysis_id, position, sender_name, sender_email,
			email_count, unsubscribe_url, unsubscribe_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", errors.Wrap(err, "prepare sender insert")
	}
	defer stmt.Close()

	for i, sender := range p.Report.Senders {
		_, err := stmt.ExecContext(ctx, id, i, sender.Name, sender.Email, sender.MessageCount, sender.UnsubscribeURL, string(sender.LinkType))
		if err != nil {
			return "", errors.Wrapf(err, "insert sender %s", sender.Email)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "commit analysis")
	}

	s.log.Info().Str("id", id).Str("user", p.UserEmail).Int("senders", len(p.Report.Senders)).Msg("analysis saved")
	return id, nil
}

const analysisColumns = `id, user_email, date_range_start, date_range_end, total_emails,
	unsubscribable_emails, percentage, unique_senders, created_at`

// ListAnalyses returns the user's analyses, newest first, without senders.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, userEmail string) ([]model.SavedAnalysis, error) {
	out := []model.SavedAnalysis{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+analysisColumns+` FROM analyses WHERE user_email = ? ORDER BY created_at DESC, rowid DESC`,
		userEmail)
	if err != nil {
		return nil, errors.Wrap(err, "list analyses")
	}
	return out, nil
}

type senderRow struct {
	Name           string         `db:"sender_name"`
	Email          string         `db:"sender_email"`
	MessageCount   int            `db:"email_count"`
	UnsubscribeURL string         `db:"unsubscribe_url"`
	LinkType       string         `db:"unsubscribe_type"`
	ClickedAt      sql.NullString `db:"clicked_at"`
}

func (r senderRow) toModel() model.SenderSummary {
	s := model.SenderSummary{
		Name:           r.Name,
		Email:          r.Email,
		MessageCount:   r.MessageCount,
		UnsubscribeURL: r.UnsubscribeURL,
		LinkType:       model.LinkType(r.LinkType),
	}
	if r.ClickedAt.Valid {
		at := r.ClickedAt.String
		s.ClickedAt = &at
	}
	return s
}

// GetAnalysis loads one analysis with its senders in report order.
func (s *SQLiteStore) GetAnalysis(ctx context.Context, id, userEmail string) (*model.SavedAnalysis, error) {
	var a model.SavedAnalysis
	err := s.db.GetContext(ctx, &a,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = ? AND user_email = ?`, id, userEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get analysis %s", id)
	}

	var rows []senderRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT sender_name, sender_email, email_count, unsubscribe_url, unsubscribe_type, clicked_at
		FROM analysis_senders WHERE analysis_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "load senders of %s", id)
	}
	a.Senders = make([]model.SenderSummary, len(rows))
	for i, r := range rows {
		a.Senders[i] = r.toModel()
	}
	return &a, nil
}

// MarkSenderClicked stamps clicked_at for a sender of one of the user's
// analyses. It reports false when the analysis or sender is unknown, or the
// sender was already marked.
func (s *SQLiteStore) MarkSenderClicked(ctx context.Context, analysisID, senderEmail, userEmail string) (bool, error) {
	var owned int
	err := s.db.GetContext(ctx, &owned,
		`SELECT COUNT(*) FROM analyses WHERE id = ? AND user_email = ?`, analysisID, userEmail)
	if err != nil {
		return false, errors.Wrap(err, "check analysis owner")
	}
	if owned == 0 {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_senders SET clicked_at = datetime('now')
		WHERE analysis_id = ? AND sender_email = ? AND clicked_at IS NULL`,
		analysisID, senderEmail)
	if err != nil {
		return false, errors.Wrap(err, "mark sender clicked")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "mark sender clicked")
	}
	return n > 0, nil
}
