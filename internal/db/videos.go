package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"opendome.systems/pipeline/internal/queue"
)

// ErrNotFound is returned when a lookup matches no video.
var ErrNotFound = errors.New("db: video not found")

// querier is the subset of pgxpool.Pool the store needs; it lets tests swap
// in a transaction or a stub.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// VideoStore implements queue.Store against the shared videos table. Every
// status mutation is a single UPDATE guarded by the expected prior status;
// there is no read-modify-write anywhere in this file.
type VideoStore struct {
	db querier
}

// NewVideoStore wraps a connection pool.
func NewVideoStore(pool *pgxpool.Pool) *VideoStore {
	return &VideoStore{db: pool}
}

const videoColumns = `video_id, url, title, raw_text, chamber, session_type,
	session_year, day_number, video_date, part, time_of_day, duration_seconds,
	source, transcript, summary, status, claimed_by, claimed_at, error_message,
	created_at, updated_at`

// FindCandidates returns the best available videos in a status: most recent
// session year first, then most recent session date, video_id as the stable
// tiebreak.
func (s *VideoStore) FindCandidates(ctx context.Context, status queue.Status, limit int) ([]queue.Video, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE status = $1
		ORDER BY session_year DESC NULLS LAST, video_date DESC NULLS LAST, video_id ASC
		LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	defer rows.Close()
	return scanVideos(rows)
}

// ConditionalUpdate applies set only when the row's status still matches
// expected. The affected count tells the caller whether it won the race.
func (s *VideoStore) ConditionalUpdate(ctx context.Context, videoID string, expected queue.Status, set queue.Fields) (int64, error) {
	clauses, args := buildSet(set)
	args = append(args, videoID, string(expected))
	sql := fmt.Sprintf(
		`UPDATE videos SET %s WHERE video_id = $%d AND status = $%d`,
		strings.Join(clauses, ", "), len(args)-1, len(args))

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("conditional update %s: %w", videoID, err)
	}
	return tag.RowsAffected(), nil
}

// BulkConditionalUpdate applies set to all rows in a status claimed before the
// cutoff. Rows that were never claimed (claimed_at IS NULL) match too, which
// lets error requeues share the same primitive; claimed rows always carry a
// claimed_at so stale sweeps only ever see real claims.
func (s *VideoStore) BulkConditionalUpdate(ctx context.Context, in queue.Status, claimedBefore time.Time, set queue.Fields) (int64, error) {
	clauses, args := buildSet(set)
	args = append(args, string(in), claimedBefore.UTC())
	sql := fmt.Sprintf(
		`UPDATE videos SET %s WHERE status = $%d AND (claimed_at IS NULL OR claimed_at < $%d)`,
		strings.Join(clauses, ", "), len(args)-1, len(args))

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk conditional update from %s: %w", in, err)
	}
	return tag.RowsAffected(), nil
}

// CountsByStatus reports row counts grouped by status.
func (s *VideoStore) CountsByStatus(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM videos GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counts by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[queue.Status(status)] = count
	}
	return counts, rows.Err()
}

// InsertVideo adds a newly discovered video in pending status. Re-discovered
// videos are ignored; returns true when the row is new.
func (s *VideoStore) InsertVideo(ctx context.Context, v queue.Video) (bool, error) {
	status := v.Status
	if status == "" {
		status = queue.StatusPending
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO videos (video_id, url, title, raw_text, chamber, session_type,
			session_year, day_number, video_date, part, time_of_day, source, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (video_id) DO NOTHING`,
		v.VideoID, v.URL,
		nullText(v.Title), nullText(v.RawText), nullText(v.Chamber), nullText(v.SessionType),
		nullInt(v.SessionYear), nullInt(v.DayNumber), nullText(v.VideoDate),
		nullInt(v.Part), nullText(v.TimeOfDay), nullText(v.Source), string(status))
	if err != nil {
		return false, fmt.Errorf("insert video %s: %w", v.VideoID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetVideo fetches one video by id.
func (s *VideoStore) GetVideo(ctx context.Context, videoID string) (*queue.Video, error) {
	row := s.db.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE video_id = $1`, videoID)
	v, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get video %s: %w", videoID, err)
	}
	return v, nil
}

// ListByStatus returns videos in a status, best first.
func (s *VideoStore) ListByStatus(ctx context.Context, status queue.Status, limit int) ([]queue.Video, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.FindCandidates(ctx, status, limit)
}

// ListSummarized returns every video with a finished summary, newest session
// first. Used by the site exporter.
func (s *VideoStore) ListSummarized(ctx context.Context) ([]queue.Video, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE status = $1 AND summary IS NOT NULL
		ORDER BY session_year DESC NULLS LAST, video_date DESC NULLS LAST, video_id ASC`,
		string(queue.StatusSummarized))
	if err != nil {
		return nil, fmt.Errorf("list summarized: %w", err)
	}
	defer rows.Close()
	return scanVideos(rows)
}

// buildSet turns queue.Fields into SET clauses and their arguments. The claim
// pair is written together or nulled together, never singly.
func buildSet(set queue.Fields) ([]string, []any) {
	clauses := []string{"updated_at = now()"}
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	add("status", string(set.Status))
	switch {
	case set.SetClaim:
		add("claimed_by", set.ClaimedBy)
		add("claimed_at", set.ClaimedAt.UTC())
	case set.ClearClaim:
		clauses = append(clauses, "claimed_by = NULL", "claimed_at = NULL")
	}
	if set.Transcript != nil {
		add("transcript", *set.Transcript)
	}
	if set.Summary != nil {
		add("summary", *set.Summary)
	}
	if set.DurationSeconds != nil {
		add("duration_seconds", *set.DurationSeconds)
	}
	if set.ErrorMessage != nil {
		add("error_message", nullText(*set.ErrorMessage))
	}
	return clauses, args
}

func scanVideos(rows pgx.Rows) ([]queue.Video, error) {
	var videos []queue.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

func scanVideo(row pgx.Row) (*queue.Video, error) {
	var (
		v           queue.Video
		title       pgtype.Text
		rawText     pgtype.Text
		chamber     pgtype.Text
		sessionType pgtype.Text
		sessionYear pgtype.Int4
		dayNumber   pgtype.Int4
		videoDate   pgtype.Date
		part        pgtype.Int4
		timeOfDay   pgtype.Text
		duration    pgtype.Int4
		source      pgtype.Text
		transcript  pgtype.Text
		summary     pgtype.Text
		status      string
		claimedBy   pgtype.Text
		claimedAt   pgtype.Timestamptz
		errMessage  pgtype.Text
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)

	if err := row.Scan(
		&v.VideoID, &v.URL, &title, &rawText, &chamber, &sessionType,
		&sessionYear, &dayNumber, &videoDate, &part, &timeOfDay, &duration,
		&source, &transcript, &summary, &status, &claimedBy, &claimedAt,
		&errMessage, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	v.Title = title.String
	v.RawText = rawText.String
	v.Chamber = chamber.String
	v.SessionType = sessionType.String
	v.SessionYear = int(sessionYear.Int32)
	v.DayNumber = int(dayNumber.Int32)
	if videoDate.Valid {
		v.VideoDate = videoDate.Time.Format("2006-01-02")
	}
	v.Part = int(part.Int32)
	v.TimeOfDay = timeOfDay.String
	v.DurationSeconds = int(duration.Int32)
	v.Source = source.String
	v.Transcript = transcript.String
	v.Summary = summary.String
	v.Status = queue.Status(status)
	v.ClaimedBy = claimedBy.String
	v.ClaimedAt = NilTimePtr(claimedAt)
	v.ErrorMessage = errMessage.String
	if createdAt.Valid {
		v.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		v.UpdatedAt = updatedAt.Time
	}
	return &v, nil
}

func nullText(s string) pgtype.Text {
	if strings.TrimSpace(s) == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func nullInt(n int) pgtype.Int4 {
	if n == 0 {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(n), Valid: true}
}
