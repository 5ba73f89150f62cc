package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// fakeGCS serves the two Cloud Storage calls GCSStore makes: multipart
// uploads on the JSON API and object downloads on the XML API.
type fakeGCS struct {
	mu         sync.Mutex
	objects    map[string][]byte // "bucket/object" -> content
	uploads    int
	rejectPuts bool
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/storage/v1/b/"):
		f.upload(w, r)
	case r.Method == http.MethodGet:
		f.mu.Lock()
		data, ok := f.objects[strings.TrimPrefix(r.URL.Path, "/")]
		f.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write(data)
	default:
		http.Error(w, "unexpected request "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func (f *fakeGCS) upload(w http.ResponseWriter, r *http.Request) {
	if f.rejectPuts {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
		return
	}

	bucket := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/upload/storage/v1/b/"), "/o")
	name := r.URL.Query().Get("name")

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	// first part is the object metadata, second the media
	meta, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var attrs struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
	}
	if err := json.NewDecoder(meta).Decode(&attrs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if name == "" {
		name = attrs.Name
	}
	media, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(media)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.objects[bucket+"/"+name] = data
	f.uploads++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"bucket":      bucket,
		"name":        name,
		"contentType": attrs.ContentType,
		"size":        len(data),
	})
}

func (f *fakeGCS) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func (f *fakeGCS) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func newTestGCSStore(t *testing.T, fake *fakeGCS) *GCSStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("storage.NewClient() error = %v", err)
	}
	store := NewGCSStoreWithClient(client, "audible", "runs/daily")
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGCSStore_WriteRead(t *testing.T) {
	ctx := context.Background()
	fake := &fakeGCS{objects: make(map[string][]byte)}
	store := newTestGCSStore(t, fake)

	if err := store.Write(ctx, "transactions.csv", sampleTable()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, ok := fake.object("audible/runs/daily/transactions.csv")
	if !ok {
		t.Fatal("object not uploaded under the prefix")
	}
	if !strings.HasPrefix(string(data), "book_id,title,Price\n") {
		t.Errorf("uploaded content = %q", data)
	}

	got, err := store.Read(ctx, "transactions.csv")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Len() != 2 || got.Get(0, "title") != domain.Str(`The "Quoted", Title`) {
		t.Errorf("Read() = %+v", got)
	}
	if got.Get(1, "title").Valid {
		t.Errorf("null cell read back as %+v", got.Get(1, "title"))
	}
}

func TestGCSStore_ReadMissing(t *testing.T) {
	store := newTestGCSStore(t, &fakeGCS{objects: make(map[string][]byte)})

	_, err := store.Read(context.Background(), "rates.csv")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Read() error = %v, want fs.ErrNotExist", err)
	}
	if domain.IsKind(err, domain.KindConnectivity) {
		t.Errorf("missing object reported as connectivity error: %v", err)
	}
}

func TestGCSStore_FailedWriteKeepsPrevious(t *testing.T) {
	fake := &fakeGCS{objects: map[string][]byte{
		"audible/runs/daily/result.csv": []byte("title\nold\n"),
	}}
	store := newTestGCSStore(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Write(ctx, "result.csv", sampleTable())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Write() error = %v, want context.Canceled", err)
	}
	if domain.IsKind(err, domain.KindConnectivity) {
		t.Errorf("aborted encode reported as connectivity error: %v", err)
	}
	if n := fake.uploadCount(); n != 0 {
		t.Errorf("uploads = %d, want none", n)
	}

	got, err := store.Read(context.Background(), "result.csv")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Len() != 1 || got.Get(0, "title") != domain.Str("old") {
		t.Errorf("previous artifact replaced: %+v", got)
	}
}

func TestGCSStore_RejectedUpload(t *testing.T) {
	fake := &fakeGCS{objects: make(map[string][]byte), rejectPuts: true}
	store := newTestGCSStore(t, fake)

	err := store.Write(context.Background(), "rates.csv", sampleTable())
	if !domain.IsKind(err, domain.KindConnectivity) {
		t.Errorf("Write() error = %v, want connectivity error", err)
	}
	if _, ok := fake.object("audible/runs/daily/rates.csv"); ok {
		t.Error("rejected upload left an object behind")
	}
}
