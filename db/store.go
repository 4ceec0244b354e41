package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onnwee/channel-harvest/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Stats is an aggregate snapshot across all persisted videos.
type Stats struct {
	TotalPersons int
	TotalVideos  int
	ByStatus     map[model.DownloadStatus]int
	TotalBytes   int64
	PerPerson    []PersonStats
}

// PersonStats aggregates one person's videos.
type PersonStats struct {
	PersonID int64
	Name     string
	Videos   int
	Bytes    int64
}

// Store is the persistence surface the pipeline runs against. The SQL
// implementation backs normal operation; the in-memory one backs no-database
// mode and tests.
type Store interface {
	// SavePerson upserts by channel_url and returns the person id. The
	// created_at of an existing row is preserved.
	SavePerson(ctx context.Context, p *model.Person) (int64, error)
	GetPersonByChannelURL(ctx context.Context, channelURL string) (*model.Person, error)
	// DeletePerson removes a person only while no videos reference it. Used
	// as the compensation step of channel transactions.
	DeletePerson(ctx context.Context, id int64) error

	// SaveVideo upserts by video_id and returns the row id. On conflict the
	// metadata columns are refreshed but uuid and created_at stay untouched.
	SaveVideo(ctx context.Context, v *model.Video) (int64, error)
	// BatchSaveVideos saves all videos in one transaction, skipping (not
	// aborting on) individually invalid items. Returns the number saved.
	BatchSaveVideos(ctx context.Context, videos []*model.Video) (int, error)
	GetVideo(ctx context.Context, videoID string) (*model.Video, error)
	UpdateVideoStatus(ctx context.Context, videoID string, status model.DownloadStatus, storagePath string, fileSize int64, errMsg string) error
	// ListVideoIDs returns every persisted video id mapped to its UUID, used
	// to seed the duplicate tracker on startup.
	ListVideoIDs(ctx context.Context) (map[string]string, error)
	CountVideosForPerson(ctx context.Context, personID int64) (int, error)

	CreateProgress(ctx context.Context, p *model.Progress) error
	UpdateProgress(ctx context.Context, p *model.Progress) error
	GetProgress(ctx context.Context, jobID string) (*model.Progress, error)
	// LatestResumable returns the most recently started non-terminal job, or
	// ErrNotFound when every job has finished.
	LatestResumable(ctx context.Context) (*model.Progress, error)

	Stats(ctx context.Context) (*Stats, error)
}

// SQLStore implements Store over a Postgres connection.
type SQLStore struct{ DB *sql.DB }

// NewSQLStore wraps an open connection.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{DB: db} }

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) SavePerson(ctx context.Context, p *model.Person) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	q := `INSERT INTO persons(name, email, person_type, channel_url, channel_id)
		  VALUES($1,$2,$3,$4,$5)
		  ON CONFLICT(channel_url) DO UPDATE SET
		    name=EXCLUDED.name,
		    email=EXCLUDED.email,
		    person_type=EXCLUDED.person_type,
		    channel_id=COALESCE(NULLIF(EXCLUDED.channel_id,''), persons.channel_id)
		  RETURNING id`
	var id int64
	if err := s.DB.QueryRowContext(ctx, q, p.Name, nullable(p.Email), nullable(p.Type), p.ChannelURL, nullable(p.ChannelID)).Scan(&id); err != nil {
		return 0, fmt.Errorf("save person: %w", err)
	}
	p.ID = id
	return id, nil
}

func (s *SQLStore) GetPersonByChannelURL(ctx context.Context, channelURL string) (*model.Person, error) {
	q := `SELECT id, name, COALESCE(email,''), COALESCE(person_type,''), channel_url, COALESCE(channel_id,''),
		         created_at, COALESCE(updated_at, created_at)
		  FROM persons WHERE channel_url = $1`
	var p model.Person
	err := s.DB.QueryRowContext(ctx, q, channelURL).Scan(
		&p.ID, &p.Name, &p.Email, &p.Type, &p.ChannelURL, &p.ChannelID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) DeletePerson(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM persons WHERE id = $1
		   AND NOT EXISTS (SELECT 1 FROM videos WHERE person_id = $1)`, id)
	if err != nil {
		return fmt.Errorf("delete person %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already gone or still referenced; both are fine for a
		// compensation step.
		return nil
	}
	return nil
}

// The conflict set refreshes enumeration metadata only. Transfer state
// (download_status, storage_path, file_size, error_message) is owned by
// UpdateVideoStatus: a re-enumeration must never reset a completed transfer.
const videoUpsert = `INSERT INTO videos(person_id, video_id, title, description, duration_seconds,
		upload_date, view_count, uuid, storage_path, file_size, download_status, error_message)
	VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT(video_id) DO UPDATE SET
		title=EXCLUDED.title,
		description=EXCLUDED.description,
		duration_seconds=EXCLUDED.duration_seconds,
		upload_date=EXCLUDED.upload_date,
		view_count=EXCLUDED.view_count
	RETURNING id, uuid`

func (s *SQLStore) SaveVideo(ctx context.Context, v *model.Video) (int64, error) {
	if err := v.Validate(); err != nil {
		return 0, err
	}
	id, uuid, err := saveVideoTx(ctx, s.DB, v)
	if err != nil {
		return 0, err
	}
	v.ID, v.UUID = id, uuid
	return id, nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func saveVideoTx(ctx context.Context, q execQuerier, v *model.Video) (int64, string, error) {
	var upload any
	if !v.UploadDate.IsZero() {
		upload = v.UploadDate
	}
	var id int64
	var uuid string
	err := q.QueryRowContext(ctx, videoUpsert,
		v.PersonID, v.VideoID, v.Title, nullable(v.Description), v.Duration,
		upload, v.ViewCount, v.UUID, nullable(v.StoragePath), v.FileSize,
		string(v.Status), nullable(v.ErrorMsg)).Scan(&id, &uuid)
	if err != nil {
		return 0, "", fmt.Errorf("save video %s: %w", v.VideoID, err)
	}
	return id, uuid, nil
}

func (s *SQLStore) BatchSaveVideos(ctx context.Context, videos []*model.Video) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	saved := 0
	for _, v := range videos {
		if err := v.Validate(); err != nil {
			continue
		}
		id, uuid, err := saveVideoTx(ctx, tx, v)
		if err != nil {
			return 0, err
		}
		v.ID, v.UUID = id, uuid
		saved++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch save: %w", err)
	}
	return saved, nil
}

const videoSelect = `SELECT id, person_id, video_id, title, COALESCE(description,''), duration_seconds,
		COALESCE(upload_date, 'epoch'::timestamptz), view_count, uuid, COALESCE(storage_path,''),
		file_size, download_status, COALESCE(error_message,''), created_at, COALESCE(updated_at, created_at)
	FROM videos`

func scanVideo(row *sql.Row) (*model.Video, error) {
	var v model.Video
	var status string
	err := row.Scan(&v.ID, &v.PersonID, &v.VideoID, &v.Title, &v.Description, &v.Duration,
		&v.UploadDate, &v.ViewCount, &v.UUID, &v.StoragePath,
		&v.FileSize, &status, &v.ErrorMsg, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = model.DownloadStatus(status)
	return &v, nil
}

func (s *SQLStore) GetVideo(ctx context.Context, videoID string) (*model.Video, error) {
	row := s.DB.QueryRowContext(ctx, videoSelect+` WHERE video_id = $1`, videoID)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video %s: %w", videoID, err)
	}
	return v, nil
}

func (s *SQLStore) UpdateVideoStatus(ctx context.Context, videoID string, status model.DownloadStatus, storagePath string, fileSize int64, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown download_status %q", model.ErrValidation, status)
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE videos SET download_status=$2,
			storage_path=COALESCE(NULLIF($3,''), storage_path),
			file_size=CASE WHEN $4 > 0 THEN $4 ELSE file_size END,
			error_message=NULLIF($5,'')
		 WHERE video_id=$1`,
		videoID, string(status), storagePath, fileSize, errMsg)
	if err != nil {
		return fmt.Errorf("update video status %s: %w", videoID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update video status %s: %w", videoID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) ListVideoIDs(ctx context.Context) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT video_id, uuid FROM videos`)
	if err != nil {
		return nil, fmt.Errorf("list video ids: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, uuid string
		if err := rows.Scan(&id, &uuid); err != nil {
			return nil, err
		}
		out[id] = uuid
	}
	return out, rows.Err()
}

func (s *SQLStore) CountVideosForPerson(ctx context.Context, personID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos WHERE person_id = $1`, personID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count videos for person %d: %w", personID, err)
	}
	return n, nil
}

func (s *SQLStore) CreateProgress(ctx context.Context, p *model.Progress) error {
	if err := p.Validate(); err != nil {
		return err
	}
	q := `INSERT INTO ingest_progress(job_id, input_file, total_channels, channels_processed,
			channels_failed, channels_skipped, total_videos, videos_processed, videos_failed,
			videos_skipped, status, error_message)
		  VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		  RETURNING id, started_at`
	err := s.DB.QueryRowContext(ctx, q, p.JobID, nullable(p.InputFile), p.TotalChannels,
		p.ChannelsProcessed, p.ChannelsFailed, p.ChannelsSkipped, p.TotalVideos,
		p.VideosProcessed, p.VideosFailed, p.VideosSkipped, string(p.Status),
		nullable(p.ErrorMsg)).Scan(&p.ID, &p.StartedAt)
	if err != nil {
		return fmt.Errorf("create progress %s: %w", p.JobID, err)
	}
	return nil
}

func (s *SQLStore) UpdateProgress(ctx context.Context, p *model.Progress) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var completed any
	if p.Status.Terminal() {
		completed = "now"
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE ingest_progress SET
			total_channels=$2, channels_processed=$3, channels_failed=$4, channels_skipped=$5,
			total_videos=$6, videos_processed=$7, videos_failed=$8, videos_skipped=$9,
			status=$10, error_message=NULLIF($11,''),
			completed_at=CASE WHEN $12::text IS NOT NULL THEN NOW() ELSE completed_at END
		 WHERE job_id=$1`,
		p.JobID, p.TotalChannels, p.ChannelsProcessed, p.ChannelsFailed, p.ChannelsSkipped,
		p.TotalVideos, p.VideosProcessed, p.VideosFailed, p.VideosSkipped,
		string(p.Status), p.ErrorMsg, completed)
	if err != nil {
		return fmt.Errorf("update progress %s: %w", p.JobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update progress %s: %w", p.JobID, ErrNotFound)
	}
	return nil
}

const progressSelect = `SELECT id, job_id, COALESCE(input_file,''), total_channels, channels_processed,
		channels_failed, channels_skipped, total_videos, videos_processed, videos_failed,
		videos_skipped, status, COALESCE(error_message,''), started_at,
		COALESCE(updated_at, started_at), COALESCE(completed_at, 'epoch'::timestamptz)
	FROM ingest_progress`

func scanProgress(row *sql.Row) (*model.Progress, error) {
	var p model.Progress
	var status string
	err := row.Scan(&p.ID, &p.JobID, &p.InputFile, &p.TotalChannels, &p.ChannelsProcessed,
		&p.ChannelsFailed, &p.ChannelsSkipped, &p.TotalVideos, &p.VideosProcessed,
		&p.VideosFailed, &p.VideosSkipped, &status, &p.ErrorMsg, &p.StartedAt,
		&p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.JobStatus(status)
	return &p, nil
}

func (s *SQLStore) GetProgress(ctx context.Context, jobID string) (*model.Progress, error) {
	row := s.DB.QueryRowContext(ctx, progressSelect+` WHERE job_id = $1`, jobID)
	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progress %s: %w", jobID, err)
	}
	return p, nil
}

func (s *SQLStore) LatestResumable(ctx context.Context) (*model.Progress, error) {
	row := s.DB.QueryRowContext(ctx,
		progressSelect+` WHERE status IN ('running','paused') ORDER BY started_at DESC LIMIT 1`)
	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest resumable: %w", err)
	}
	return p, nil
}

func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStatus: make(map[model.DownloadStatus]int)}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons`).Scan(&st.TotalPersons); err != nil {
		return nil, fmt.Errorf("stats persons: %w", err)
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT download_status, COUNT(*), COALESCE(SUM(file_size),0) FROM videos GROUP BY download_status`)
	if err != nil {
		return nil, fmt.Errorf("stats videos: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		var bytes int64
		if err := rows.Scan(&status, &n, &bytes); err != nil {
			return nil, err
		}
		st.ByStatus[model.DownloadStatus(status)] = n
		st.TotalVideos += n
		st.TotalBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.DB.QueryContext(ctx,
		`SELECT p.id, p.name, COUNT(v.id), COALESCE(SUM(v.file_size),0)
		 FROM persons p LEFT JOIN videos v ON v.person_id = p.id
		 GROUP BY p.id, p.name ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("stats per person: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var ps PersonStats
		if err := prows.Scan(&ps.PersonID, &ps.Name, &ps.Videos, &ps.Bytes); err != nil {
			return nil, err
		}
		st.PerPerson = append(st.PerPerson, ps)
	}
	return st, prows.Err()
}

// nullable maps "" to NULL so empty optional fields stay NULL in the schema.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
