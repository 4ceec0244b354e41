package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/channel-harvest/model"
)

// MemStore is an in-memory Store used for no-database mode and tests. It
// mirrors the SQL implementation's semantics: upsert keys, immutable UUIDs,
// and skip-on-invalid batch saves.
type MemStore struct {
	mu       sync.Mutex
	nextID   int64
	persons  map[int64]*model.Person
	byURL    map[string]int64
	videos   map[string]*model.Video // by video_id
	progress map[string]*model.Progress
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		persons:  make(map[int64]*model.Person),
		byURL:    make(map[string]int64),
		videos:   make(map[string]*model.Video),
		progress: make(map[string]*model.Progress),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemStore) SavePerson(_ context.Context, p *model.Person) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if id, ok := m.byURL[p.ChannelURL]; ok {
		existing := m.persons[id]
		existing.Name = p.Name
		existing.Email = p.Email
		existing.Type = p.Type
		if p.ChannelID != "" {
			existing.ChannelID = p.ChannelID
		}
		existing.UpdatedAt = now
		p.ID = id
		return id, nil
	}
	cp := *p
	cp.ID = m.id()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.persons[cp.ID] = &cp
	m.byURL[cp.ChannelURL] = cp.ID
	p.ID = cp.ID
	return cp.ID, nil
}

func (m *MemStore) GetPersonByChannelURL(_ context.Context, channelURL string) (*model.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byURL[channelURL]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.persons[id]
	return &cp, nil
}

func (m *MemStore) DeletePerson(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.videos {
		if v.PersonID == id {
			return nil
		}
	}
	if p, ok := m.persons[id]; ok {
		delete(m.byURL, p.ChannelURL)
		delete(m.persons, id)
	}
	return nil
}

// saveVideoLocked mirrors the SQL upsert: enumeration metadata refreshes,
// transfer state stays with UpdateVideoStatus.
func (m *MemStore) saveVideoLocked(v *model.Video) {
	now := time.Now().UTC()
	if existing, ok := m.videos[v.VideoID]; ok {
		existing.Title = v.Title
		existing.Description = v.Description
		existing.Duration = v.Duration
		existing.UploadDate = v.UploadDate
		existing.ViewCount = v.ViewCount
		existing.UpdatedAt = now
		v.ID, v.UUID = existing.ID, existing.UUID
		return
	}
	cp := *v
	cp.ID = m.id()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.videos[cp.VideoID] = &cp
	v.ID = cp.ID
}

func (m *MemStore) SaveVideo(_ context.Context, v *model.Video) (int64, error) {
	if err := v.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveVideoLocked(v)
	return v.ID, nil
}

func (m *MemStore) BatchSaveVideos(_ context.Context, videos []*model.Video) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := 0
	for _, v := range videos {
		if err := v.Validate(); err != nil {
			continue
		}
		m.saveVideoLocked(v)
		saved++
	}
	return saved, nil
}

func (m *MemStore) GetVideo(_ context.Context, videoID string) (*model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[videoID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemStore) UpdateVideoStatus(_ context.Context, videoID string, status model.DownloadStatus, storagePath string, fileSize int64, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown download_status %q", model.ErrValidation, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[videoID]
	if !ok {
		return fmt.Errorf("update video status %s: %w", videoID, ErrNotFound)
	}
	v.Status = status
	if storagePath != "" {
		v.StoragePath = storagePath
	}
	if fileSize > 0 {
		v.FileSize = fileSize
	}
	v.ErrorMsg = errMsg
	v.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) ListVideoIDs(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.videos))
	for id, v := range m.videos {
		out[id] = v.UUID
	}
	return out, nil
}

func (m *MemStore) CountVideosForPerson(_ context.Context, personID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.videos {
		if v.PersonID == personID {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CreateProgress(_ context.Context, p *model.Progress) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.progress[p.JobID]; ok {
		return fmt.Errorf("create progress %s: duplicate job_id", p.JobID)
	}
	cp := *p
	cp.ID = m.id()
	cp.StartedAt = time.Now().UTC()
	cp.UpdatedAt = cp.StartedAt
	m.progress[cp.JobID] = &cp
	p.ID, p.StartedAt = cp.ID, cp.StartedAt
	return nil
}

func (m *MemStore) UpdateProgress(_ context.Context, p *model.Progress) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.progress[p.JobID]
	if !ok {
		return fmt.Errorf("update progress %s: %w", p.JobID, ErrNotFound)
	}
	now := time.Now().UTC()
	cp := *p
	cp.ID = existing.ID
	cp.StartedAt = existing.StartedAt
	cp.UpdatedAt = now
	cp.CompletedAt = existing.CompletedAt
	if p.Status.Terminal() && existing.CompletedAt.IsZero() {
		cp.CompletedAt = now
	}
	m.progress[p.JobID] = &cp
	return nil
}

func (m *MemStore) GetProgress(_ context.Context, jobID string) (*model.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) LatestResumable(_ context.Context) (*model.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Progress
	for _, p := range m.progress {
		if p.Status.Terminal() {
			continue
		}
		if best == nil || p.StartedAt.After(best.StartedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MemStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &Stats{
		TotalPersons: len(m.persons),
		ByStatus:     make(map[model.DownloadStatus]int),
	}
	perPerson := make(map[int64]*PersonStats)
	for _, v := range m.videos {
		st.TotalVideos++
		st.ByStatus[v.Status]++
		st.TotalBytes += v.FileSize
		ps := perPerson[v.PersonID]
		if ps == nil {
			ps = &PersonStats{PersonID: v.PersonID}
			if p, ok := m.persons[v.PersonID]; ok {
				ps.Name = p.Name
			}
			perPerson[v.PersonID] = ps
		}
		ps.Videos++
		ps.Bytes += v.FileSize
	}
	for _, p := range m.persons {
		if _, ok := perPerson[p.ID]; !ok {
			perPerson[p.ID] = &PersonStats{PersonID: p.ID, Name: p.Name}
		}
	}
	for _, ps := range perPerson {
		st.PerPerson = append(st.PerPerson, *ps)
	}
	sort.Slice(st.PerPerson, func(i, j int) bool { return st.PerPerson[i].PersonID < st.PerPerson[j].PersonID })
	return st, nil
}
