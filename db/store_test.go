package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/onnwee/channel-harvest/model"
)

// openTestDB connects to the integration database named by TEST_PG_DSN,
// migrates the schema, and truncates all tables. Skipped when unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Errorf("failed to close db: %v", err)
		}
	})
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"videos", "ingest_progress", "persons"} {
		if _, err := database.Exec("TRUNCATE " + table + " CASCADE"); err != nil {
			t.Fatal(err)
		}
	}
	return database
}

func TestSQLStorePersonUpsert(t *testing.T) {
	s := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	url := "https://www.youtube.com/@alice"

	id, err := s.SavePerson(ctx, &model.Person{Name: "Alice", ChannelURL: url})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.SavePerson(ctx, &model.Person{Name: "Alice 2", ChannelURL: url, ChannelID: "UCaliceid001"})
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Fatalf("upsert returned new id %d, want %d", id2, id)
	}
	got, err := s.GetPersonByChannelURL(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Alice 2" || got.ChannelID != "UCaliceid001" {
		t.Fatalf("upsert did not refresh fields: %+v", got)
	}

	// Empty channel id must not erase the stored one.
	if _, err := s.SavePerson(ctx, &model.Person{Name: "Alice 3", ChannelURL: url}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetPersonByChannelURL(ctx, url)
	if got.ChannelID != "UCaliceid001" {
		t.Fatalf("channel id lost: %q", got.ChannelID)
	}
}

func TestSQLStoreVideoUpsertKeepsUUID(t *testing.T) {
	s := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	pid, err := s.SavePerson(ctx, &model.Person{Name: "Alice", ChannelURL: "https://www.youtube.com/@alice"})
	if err != nil {
		t.Fatal(err)
	}

	first := model.NewVideo(pid, "aaaaaaaaaaa", "original")
	originalUUID := first.UUID
	if _, err := s.SaveVideo(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := model.NewVideo(pid, "aaaaaaaaaaa", "refreshed")
	if _, err := s.SaveVideo(ctx, second); err != nil {
		t.Fatal(err)
	}
	if second.UUID != originalUUID {
		t.Fatalf("uuid changed on conflict: %q vs %q", second.UUID, originalUUID)
	}
	got, err := s.GetVideo(ctx, "aaaaaaaaaaa")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "refreshed" || got.UUID != originalUUID {
		t.Fatalf("conflict semantics broken: %+v", got)
	}
}

func TestSQLStoreBatchSaveSkipsInvalid(t *testing.T) {
	s := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	pid, err := s.SavePerson(ctx, &model.Person{Name: "Alice", ChannelURL: "https://www.youtube.com/@alice"})
	if err != nil {
		t.Fatal(err)
	}

	saved, err := s.BatchSaveVideos(ctx, []*model.Video{
		model.NewVideo(pid, "aaaaaaaaaaa", "good"),
		model.NewVideo(pid, "bad", "short id"),
		model.NewVideo(pid, "bbbbbbbbbbb", "also good"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved != 2 {
		t.Fatalf("saved = %d, want 2", saved)
	}
	ids, err := s.ListVideoIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}
}

func TestSQLStoreUpdateVideoStatus(t *testing.T) {
	s := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	pid, err := s.SavePerson(ctx, &model.Person{Name: "Alice", ChannelURL: "https://www.youtube.com/@alice"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveVideo(ctx, model.NewVideo(pid, "aaaaaaaaaaa", "a video")); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateVideoStatus(ctx, "aaaaaaaaaaa", model.StatusCompleted, "videos/key.mp4", 4096, ""); err != nil {
		t.Fatal(err)
	}
	// Failed update with no path/size keeps the stored path and size.
	if err := s.UpdateVideoStatus(ctx, "aaaaaaaaaaa", model.StatusFailed, "", 0, "upload refused"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetVideo(ctx, "aaaaaaaaaaa")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusFailed || got.StoragePath != "videos/key.mp4" || got.FileSize != 4096 {
		t.Fatalf("update clobbered fields: %+v", got)
	}
	if got.ErrorMsg != "upload refused" {
		t.Fatalf("error message = %q", got.ErrorMsg)
	}

	if err := s.UpdateVideoStatus(ctx, "zzzzzzzzzzz", model.StatusFailed, "", 0, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSQLStoreProgressLifecycle(t *testing.T) {
	s := NewSQLStore(openTestDB(t))
	ctx := context.Background()

	p := &model.Progress{JobID: "job_sql_1", InputFile: "channels.txt", TotalChannels: 2, Status: model.JobRunning}
	if err := s.CreateProgress(ctx, p); err != nil {
		t.Fatal(err)
	}
	if p.ID == 0 || p.StartedAt.IsZero() {
		t.Fatalf("create must return id and started_at: %+v", p)
	}

	p.ChannelsProcessed = 2
	p.Status = model.JobCompleted
	if err := s.UpdateProgress(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetProgress(ctx, "job_sql_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobCompleted || got.ChannelsProcessed != 2 {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.CompletedAt.IsZero() || got.CompletedAt.Unix() == 0 {
		t.Fatalf("terminal update must stamp completed_at: %v", got.CompletedAt)
	}

	if _, err := s.LatestResumable(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("all jobs terminal: want ErrNotFound, got %v", err)
	}

	paused := &model.Progress{JobID: "job_sql_2", Status: model.JobRunning}
	if err := s.CreateProgress(ctx, paused); err != nil {
		t.Fatal(err)
	}
	paused.Status = model.JobPaused
	if err := s.UpdateProgress(ctx, paused); err != nil {
		t.Fatal(err)
	}
	res, err := s.LatestResumable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.JobID != "job_sql_2" {
		t.Fatalf("resumable = %q", res.JobID)
	}
}

func TestSQLStoreStats(t *testing.T) {
	s := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	pid, err := s.SavePerson(ctx, &model.Person{Name: "Alice", ChannelURL: "https://www.youtube.com/@alice"})
	if err != nil {
		t.Fatal(err)
	}
	v := model.NewVideo(pid, "aaaaaaaaaaa", "done")
	if _, err := s.SaveVideo(ctx, v); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateVideoStatus(ctx, "aaaaaaaaaaa", model.StatusCompleted, "videos/k.mp4", 512, ""); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalPersons != 1 || st.TotalVideos != 1 || st.TotalBytes != 512 {
		t.Fatalf("totals wrong: %+v", st)
	}
	if st.ByStatus[model.StatusCompleted] != 1 {
		t.Fatalf("by-status wrong: %v", st.ByStatus)
	}
	if len(st.PerPerson) != 1 || st.PerPerson[0].Videos != 1 {
		t.Fatalf("per-person wrong: %+v", st.PerPerson)
	}
}
