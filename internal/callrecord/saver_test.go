package callrecord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-voice-backend/pkg/config"
)

func TestLocalSaver_Save(t *testing.T) {
	root := t.TempDir()
	s := NewLocalSaver(root)
	rec := testRecord("call-1")

	require.NoError(t, s.Save(context.Background(), rec))

	path := filepath.Join(root, "20260301", "call-1.json")
	assert.Equal(t, path, s.Path(rec))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded CallRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "call-1", decoded.CallID)
	assert.True(t, rec.StartTime.Equal(decoded.StartTime))
}

func TestLocalSaver_RejectsUnsafeCallID(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "cdr")
	s := NewLocalSaver(root)

	for _, id := range []string{"", ".", "..", "../escape", `..\escape`, "a/b"} {
		rec := testRecord(id)
		err := s.Save(context.Background(), rec)
		assert.ErrorIs(t, err, ErrInvalidCallID, "id %q", id)
	}

	_, err := os.Stat(filepath.Join(parent, "escape.json"))
	assert.True(t, os.IsNotExist(err))
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	files   map[string]string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}, files: map[string]string{}}
}

func (f *fakeObjectStore) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjectStore) FPutObject(_ context.Context, bucket, key, path string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[bucket+"/"+key] = path
	return minio.UploadInfo{Bucket: bucket, Key: key}, nil
}

func TestS3Saver_RecordOnly(t *testing.T) {
	store := newFakeObjectStore()
	s := newS3Saver(store, &config.CallRecordConfig{Bucket: "cdr", Root: "/records/"}, nil)

	rec := testRecord("abc")
	rec.Recorder = []Media{{TrackID: "main", Path: "/tmp/abc.wav"}}
	require.NoError(t, s.Save(context.Background(), rec))

	data, ok := store.objects["cdr/records/20260301/abc.json"]
	require.True(t, ok, "objects: %v", store.objects)
	assert.Contains(t, string(data), `"call_id": "abc"`)
	assert.Empty(t, store.files)
}

func TestS3Saver_WithMedia(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "abc.wav")
	events := filepath.Join(dir, "abc.events.jsonl")
	require.NoError(t, os.WriteFile(wav, []byte("RIFF"), 0644))
	require.NoError(t, os.WriteFile(events, []byte("{}\n"), 0644))

	withMedia := true
	store := newFakeObjectStore()
	s := newS3Saver(store, &config.CallRecordConfig{Bucket: "cdr", Root: "r", WithMedia: &withMedia}, nil)

	rec := testRecord("abc")
	rec.Recorder = []Media{
		{TrackID: "main", Path: wav},
		{TrackID: "missing", Path: filepath.Join(dir, "nope.wav")},
	}
	rec.DumpEventFile = events
	require.NoError(t, s.Save(context.Background(), rec))

	assert.Equal(t, wav, store.files["cdr/r/20260301/abc_main.wav"])
	assert.Equal(t, events, store.files["cdr/r/20260301/abc.events.jsonl"])
	assert.Len(t, store.files, 2)

	var uploaded CallRecord
	require.NoError(t, json.Unmarshal(store.objects["cdr/r/20260301/abc.json"], &uploaded))
	assert.Equal(t, "r/20260301/abc_main.wav", uploaded.Recorder[0].Path)
	assert.Equal(t, filepath.Join(dir, "nope.wav"), uploaded.Recorder[1].Path)
	assert.Equal(t, "r/20260301/abc.events.jsonl", uploaded.DumpEventFile)

	// caller's record is untouched
	assert.Equal(t, wav, rec.Recorder[0].Path)
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		host    string
		secure  bool
		wantErr bool
	}{
		{"s3.amazonaws.com", "s3.amazonaws.com", true, false},
		{"http://127.0.0.1:9000", "127.0.0.1:9000", false, false},
		{"https://oss-cn-hangzhou.aliyuncs.com/", "oss-cn-hangzhou.aliyuncs.com", true, false},
		{"http://", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, secure, err := parseEndpoint(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.secure, secure)
		})
	}
}

func TestBucketLookup(t *testing.T) {
	assert.Equal(t, minio.BucketLookupDNS, bucketLookup(config.S3VendorAliyun))
	assert.Equal(t, minio.BucketLookupDNS, bucketLookup(config.S3VendorTencent))
	assert.Equal(t, minio.BucketLookupPath, bucketLookup(config.S3VendorMinio))
	assert.Equal(t, minio.BucketLookupAuto, bucketLookup(config.S3VendorAWS))
}

func TestHTTPSaver_JSON(t *testing.T) {
	var (
		gotBody   []byte
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewHTTPSaver(&config.CallRecordConfig{
		Type:    config.CallRecordHTTP,
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
	})
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), testRecord("h1")))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "secret", gotHeader.Get("X-Api-Key"))
	assert.Contains(t, string(gotBody), `"call_id": "h1"`)
}

func TestHTTPSaver_Multipart(t *testing.T) {
	wav := filepath.Join(t.TempDir(), "h2.wav")
	require.NoError(t, os.WriteFile(wav, []byte("RIFFDATA"), 0644))

	var fields []string
	var media []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		for name := range r.MultipartForm.File {
			fields = append(fields, name)
		}
		f, _, err := r.FormFile("media_main")
		if err == nil {
			media, _ = io.ReadAll(f)
			_ = f.Close()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	withMedia := true
	s, err := NewHTTPSaver(&config.CallRecordConfig{Type: config.CallRecordHTTP, URL: srv.URL, WithMedia: &withMedia})
	require.NoError(t, err)

	rec := testRecord("h2")
	rec.Recorder = []Media{{TrackID: "main", Path: wav}}
	require.NoError(t, s.Save(context.Background(), rec))

	assert.ElementsMatch(t, []string{"calllog.json", "media_main"}, fields)
	assert.Equal(t, []byte("RIFFDATA"), media)
}

func TestHTTPSaver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewHTTPSaver(&config.CallRecordConfig{Type: config.CallRecordHTTP, URL: srv.URL})
	require.NoError(t, err)
	assert.Error(t, s.Save(context.Background(), testRecord("h3")))
}
