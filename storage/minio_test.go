package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/onnwee/channel-harvest/model"
)

// fakeMinio records calls and answers from canned state.
type fakeMinio struct {
	buckets     map[string]bool
	objects     map[string]int64 // key -> size
	putMeta     map[string]map[string]string
	failPut     error
	madeBuckets []string
}

func newFakeMinio(buckets ...string) *fakeMinio {
	f := &fakeMinio{
		buckets: make(map[string]bool),
		objects: make(map[string]int64),
		putMeta: make(map[string]map[string]string),
	}
	for _, b := range buckets {
		f.buckets[b] = true
	}
	return f
}

func (f *fakeMinio) BucketExists(_ context.Context, name string) (bool, error) {
	return f.buckets[name], nil
}

func (f *fakeMinio) MakeBucket(_ context.Context, name string, _ minio.MakeBucketOptions) error {
	f.buckets[name] = true
	f.madeBuckets = append(f.madeBuckets, name)
	return nil
}

func (f *fakeMinio) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.failPut != nil {
		return minio.UploadInfo{}, f.failPut
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[key] = n
	f.putMeta[key] = opts.UserMetadata
	return minio.UploadInfo{Key: key, Size: n}, nil
}

func (f *fakeMinio) FPutObject(_ context.Context, _, key, _ string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.failPut != nil {
		return minio.UploadInfo{}, f.failPut
	}
	f.objects[key] = 1
	f.putMeta[key] = opts.UserMetadata
	return minio.UploadInfo{Key: key, Size: 1}, nil
}

func (f *fakeMinio) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeMinio) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	size, ok := f.objects[key]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", Message: "key does not exist"}
	}
	return minio.ObjectInfo{Key: key, Size: size}, nil
}

func testVideo() *model.Video {
	v := model.NewVideo(7, "abcdefghijk", "A Video")
	v.Duration = 90
	return v
}

func newTestClient(t *testing.T, f *fakeMinio) *Client {
	t.Helper()
	c, err := newClientWith(context.Background(), f, "media", "videos")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewClientCreatesMissingBucket(t *testing.T) {
	f := newFakeMinio()
	c := newTestClient(t, f)
	if len(f.madeBuckets) != 1 || f.madeBuckets[0] != "media" {
		t.Fatalf("made buckets = %v", f.madeBuckets)
	}
	if c.Bucket() != "media" {
		t.Fatalf("bucket = %q", c.Bucket())
	}

	// Existing bucket: no create call.
	f2 := newFakeMinio("media")
	newTestClient(t, f2)
	if len(f2.madeBuckets) != 0 {
		t.Fatalf("existing bucket recreated: %v", f2.madeBuckets)
	}
}

func TestKeyFormat(t *testing.T) {
	c := newTestClient(t, newFakeMinio("media"))
	v := testVideo()

	key := c.Key(v, ".mp4")
	want := "videos/abcdefghijk_" + v.UUID + ".mp4"
	if key != want {
		t.Fatalf("key = %q, want %q", key, want)
	}
	if got := c.Key(v, ""); !strings.HasSuffix(got, ".mp4") {
		t.Fatalf("empty ext must default to mp4: %q", got)
	}

	// No prefix: bare name.
	bare, err := newClientWith(context.Background(), newFakeMinio("media"), "media", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := bare.Key(v, "webm"); strings.Contains(got, "/") {
		t.Fatalf("unprefixed key = %q", got)
	}
}

func TestUploadStream(t *testing.T) {
	f := newFakeMinio("media")
	c := newTestClient(t, f)
	v := testVideo()

	key, size, err := c.UploadStream(context.Background(), v, strings.NewReader("media bytes"), "mp4")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("media bytes")) {
		t.Fatalf("size = %d", size)
	}
	if _, ok := f.objects[key]; !ok {
		t.Fatalf("object %q not stored", key)
	}
	meta := f.putMeta[key]
	if meta["video-id"] != "abcdefghijk" || meta["person-id"] != "7" || meta["duration"] != "90" {
		t.Fatalf("metadata = %v", meta)
	}
}

func TestUploadFileFailure(t *testing.T) {
	f := newFakeMinio("media")
	f.failPut = errors.New("connection reset")
	c := newTestClient(t, f)

	if _, err := c.UploadFile(context.Background(), testVideo(), "/tmp/abcdefghijk.mp4"); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestExistsAndSize(t *testing.T) {
	f := newFakeMinio("media")
	c := newTestClient(t, f)
	ctx := context.Background()
	f.objects["videos/present.mp4"] = 512

	ok, err := c.Exists(ctx, "videos/present.mp4")
	if err != nil || !ok {
		t.Fatalf("Exists = (%v,%v)", ok, err)
	}
	ok, err = c.Exists(ctx, "videos/absent.mp4")
	if err != nil || ok {
		t.Fatalf("missing key: Exists = (%v,%v), want (false,nil)", ok, err)
	}

	size, err := c.Size(ctx, "videos/present.mp4")
	if err != nil || size != 512 {
		t.Fatalf("Size = (%d,%v)", size, err)
	}
	if _, err := c.Size(ctx, "videos/absent.mp4"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("want ErrObjectNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFakeMinio("media")
	c := newTestClient(t, f)
	f.objects["videos/gone.mp4"] = 1
	if err := c.Delete(context.Background(), "videos/gone.mp4"); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.objects["videos/gone.mp4"]; ok {
		t.Fatal("object not removed")
	}
}
