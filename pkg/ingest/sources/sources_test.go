package sources

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3store "github.com/logflow/jsonimport/pkg/storage/s3"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readSource(t *testing.T, src Source) string {
	t.Helper()
	rc, err := src.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestGlobSourceRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.json"), "{}")
	writeFile(t, filepath.Join(dir, "a.json"), "{}")
	writeFile(t, filepath.Join(dir, "nested", "deep", "c.json"), "{}")
	writeFile(t, filepath.Join(dir, "skip.txt"), "x")

	g, err := NewGlobSource(filepath.Join(dir, "**", "*.json"))
	require.NoError(t, err)
	require.Equal(t, 3, g.Count())

	var ids []string
	for _, s := range g.Sources() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{
		filepath.Join(dir, "a.json"),
		filepath.Join(dir, "b.json"),
		filepath.Join(dir, "nested", "deep", "c.json"),
	}, ids)
}

func TestGlobSourceNoMatches(t *testing.T) {
	_, err := NewGlobSource(filepath.Join(t.TempDir(), "*.json"))
	assert.Error(t, err)
}

func TestFileSourceMissing(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, src.Exists())
	assert.Equal(t, int64(-1), src.Size())

	_, err := src.Open(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type fakeStore struct {
	objects map[string]string
}

func (f *fakeStore) ReaderFromBucket(_ context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, 0, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(data)), int64(len(data)), nil
}

func (f *fakeStore) ListAll(_ context.Context, bucket, prefix string) ([]s3store.ObjectInfo, error) {
	var out []s3store.ObjectInfo
	for k, v := range f.objects {
		b, key, _ := strings.Cut(k, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			out = append(out, s3store.ObjectInfo{Bucket: b, Key: key, Size: int64(len(v))})
		}
	}
	// ListObjectsV2 returns keys in lexical order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Key < out[j-1].Key; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.json"), `{"a":1}`)
	writeFile(t, filepath.Join(dir, "logs", "x.json"), `{"b":2}`)

	store := &fakeStore{objects: map[string]string{
		"bucket/day/2.json": `{"d":2}`,
		"bucket/day/1.json": `{"d":1}`,
		"bucket/other.json": `{"o":1}`,
	}}
	r := &Resolver{
		S3: func(context.Context) (ObjectStore, error) { return store, nil },
	}

	srcs, err := r.Resolve(context.Background(), []string{
		filepath.Join(dir, "one.json"),
		filepath.Join(dir, "missing.json"),
		filepath.Join(dir, "logs", "*.json"),
		"s3://bucket/day/",
		"s3://bucket/other.json",
		"-",
	})
	require.NoError(t, err)

	var ids []string
	for _, s := range srcs {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{
		filepath.Join(dir, "one.json"),
		filepath.Join(dir, "missing.json"),
		filepath.Join(dir, "logs", "x.json"),
		"s3://bucket/day/1.json",
		"s3://bucket/day/2.json",
		"s3://bucket/other.json",
		"<stdin>",
	}, ids)

	assert.Equal(t, `{"d":2}`, readSource(t, srcs[4]))
}

func TestResolveS3NotConfigured(t *testing.T) {
	r := &Resolver{}
	_, err := r.Resolve(context.Background(), []string{"s3://bucket/key.json"})
	assert.Error(t, err)
}

func TestMemoryAndStreamSources(t *testing.T) {
	m := NewMemorySource("mem", []byte(`{"a":1}`))
	assert.Equal(t, int64(7), m.Size())
	assert.Equal(t, `{"a":1}`, readSource(t, m))

	s := NewStreamSource("pipe", strings.NewReader("data"))
	assert.Equal(t, int64(-1), s.Size())
	assert.Equal(t, "data", readSource(t, s))
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"a":1}`)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL+"/events.json", &HTTPSourceOptions{BearerToken: "secret"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, readSource(t, src))

	anon, err := NewHTTPSource(srv.URL, nil)
	require.NoError(t, err)
	_, err = anon.Open(context.Background())
	assert.Error(t, err)

	_, err = NewHTTPSource("ftp://example.com/x", nil)
	assert.Error(t, err)
}
