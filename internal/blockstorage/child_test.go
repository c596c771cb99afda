package blockstorage

import (
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/test-probe/internal/probeerr"
)

const manifestYAML = `
bucket: file:///buckets/suite
jimfsLocation: /work
evidenceDir: /work/evidence
topicDirectives:
  - topic: orders
    role: producer
    clientPrincipal: svc
userGluePackages: [probe]
`

// memBackend is an in-memory object store for tests.
type memBackend struct {
	objects map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{objects: map[string][]byte{}}
}

func (m *memBackend) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for key := range m.objects {
		if key == prefix || (len(key) > len(prefix) && key[:len(prefix)] == prefix && key[len(prefix)] == '/') {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memBackend) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return data, nil
}

func (m *memBackend) Write(_ context.Context, key string, data []byte) error {
	m.objects[key] = data
	return nil
}

func newTestChild(backend Backend) *Child {
	child := NewChild(ProviderConfig{}, slog.Default())
	child.openBackend = func(context.Context, Location) (Backend, error) {
		return backend, nil
	}
	return child
}

func TestParseBucketURI(t *testing.T) {
	t.Run("s3 uri", func(t *testing.T) {
		loc, err := ParseBucketURI("s3://my-bucket/tests/suite-1")
		require.NoError(t, err)
		assert.Equal(t, Location{Scheme: "s3", Bucket: "my-bucket", Prefix: "tests/suite-1"}, loc)
	})

	t.Run("gs uri", func(t *testing.T) {
		loc, err := ParseBucketURI("gs://b/p")
		require.NoError(t, err)
		assert.Equal(t, "gs", loc.Scheme)
	})

	t.Run("azure uri", func(t *testing.T) {
		loc, err := ParseBucketURI("azure://container/prefix")
		require.NoError(t, err)
		assert.Equal(t, "container", loc.Bucket)
	})

	t.Run("file uri", func(t *testing.T) {
		loc, err := ParseBucketURI("file:///buckets/suite")
		require.NoError(t, err)
		assert.Equal(t, "file", loc.Scheme)
		assert.Equal(t, "/buckets/suite", loc.Prefix)
	})

	t.Run("bare path is local", func(t *testing.T) {
		loc, err := ParseBucketURI("/buckets/suite")
		require.NoError(t, err)
		assert.Equal(t, "file", loc.Scheme)
	})

	t.Run("unsupported scheme fails", func(t *testing.T) {
		_, err := ParseBucketURI("ftp://nope/x")
		assert.Error(t, err)
	})

	t.Run("empty uri fails", func(t *testing.T) {
		_, err := ParseBucketURI("")
		assert.Error(t, err)
	})

	t.Run("s3 without bucket fails", func(t *testing.T) {
		_, err := ParseBucketURI("s3://")
		assert.Error(t, err)
	})
}

func TestChildFetch(t *testing.T) {
	t.Run("materializes features preserving nesting", func(t *testing.T) {
		backend := newMemBackend()
		backend.objects["suite/topic-directive.yaml"] = []byte(manifestYAML)
		backend.objects["suite/features/ok.feature"] = []byte("Feature: ok")
		backend.objects["suite/features/nested/deep.feature"] = []byte("Feature: deep")

		child := newTestChild(backend)
		fs := afero.NewMemMapFs()

		result, err := child.Fetch(context.Background(), fs, "s3://bucket/suite")
		require.NoError(t, err)
		assert.Equal(t, "s3://bucket/suite", result.Directive.Bucket)
		assert.Len(t, result.FeatureFiles, 2)

		data, err := afero.ReadFile(fs, "/work/features/nested/deep.feature")
		require.NoError(t, err)
		assert.Equal(t, "Feature: deep", string(data))
	})

	t.Run("missing manifest", func(t *testing.T) {
		backend := newMemBackend()
		backend.objects["suite/features/ok.feature"] = []byte("Feature: ok")

		child := newTestChild(backend)
		_, err := child.Fetch(context.Background(), afero.NewMemMapFs(), "s3://bucket/suite")
		require.Error(t, err)
		assert.Equal(t, probeerr.KindMissingTopicDirectiveFile, probeerr.KindOf(err))
	})

	t.Run("missing features directory", func(t *testing.T) {
		backend := newMemBackend()
		backend.objects["suite/topic-directive.yaml"] = []byte(manifestYAML)

		child := newTestChild(backend)
		_, err := child.Fetch(context.Background(), afero.NewMemMapFs(), "s3://bucket/suite")
		require.Error(t, err)
		assert.Equal(t, probeerr.KindMissingFeaturesDirectory, probeerr.KindOf(err))
	})

	t.Run("unparseable manifest", func(t *testing.T) {
		backend := newMemBackend()
		backend.objects["suite/topic-directive.yaml"] = []byte(": : :")
		backend.objects["suite/features/ok.feature"] = []byte("Feature: ok")

		child := newTestChild(backend)
		_, err := child.Fetch(context.Background(), afero.NewMemMapFs(), "s3://bucket/suite")
		require.Error(t, err)
		assert.Equal(t, probeerr.KindInvalidTopicDirectiveFormat, probeerr.KindOf(err))
	})

	t.Run("duplicate topics are a format error", func(t *testing.T) {
		backend := newMemBackend()
		backend.objects["suite/topic-directive.yaml"] = []byte(`
jimfsLocation: /work
evidenceDir: /work/evidence
topicDirectives:
  - topic: t
    role: producer
  - topic: t
    role: consumer
`)
		backend.objects["suite/features/ok.feature"] = []byte("Feature: ok")

		child := newTestChild(backend)
		_, err := child.Fetch(context.Background(), afero.NewMemMapFs(), "s3://bucket/suite")
		require.Error(t, err)
		assert.Equal(t, probeerr.KindInvalidTopicDirectiveFormat, probeerr.KindOf(err))
		assert.Contains(t, err.Error(), "t appears 2 times")
	})

	t.Run("malformed bucket uri", func(t *testing.T) {
		child := newTestChild(newMemBackend())
		_, err := child.Fetch(context.Background(), afero.NewMemMapFs(), "ftp://x/y")
		require.Error(t, err)
		assert.Equal(t, probeerr.KindBucketUriParse, probeerr.KindOf(err))
	})
}

func TestChildUpload(t *testing.T) {
	t.Run("uploads evidence preserving relative paths", func(t *testing.T) {
		backend := newMemBackend()
		child := newTestChild(backend)

		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/work/evidence/cucumber-report.json", []byte("[]"), 0o644))
		require.NoError(t, afero.WriteFile(fs, "/work/evidence/shots/final.png", []byte{1, 2}, 0o644))

		require.NoError(t, child.Upload(context.Background(), fs, "/work/evidence", "s3://bucket/suite"))

		assert.Equal(t, []byte("[]"), backend.objects["suite/evidence/cucumber-report.json"])
		assert.Equal(t, []byte{1, 2}, backend.objects["suite/evidence/shots/final.png"])
	})

	t.Run("missing evidence directory is a no-op success", func(t *testing.T) {
		backend := newMemBackend()
		child := newTestChild(backend)

		err := child.Upload(context.Background(), afero.NewMemMapFs(), "/nope", "s3://bucket/suite")
		require.NoError(t, err)
		assert.Empty(t, backend.objects)
	})
}

func TestLocalBackend(t *testing.T) {
	root := t.TempDir()
	backend := NewLocalBackend(root)
	ctx := context.Background()

	require.NoError(t, backend.Write(ctx, "a/b/file.txt", []byte("hello")))

	data, err := backend.Read(ctx, "a/b/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	keys, err := backend.List(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/file.txt"}, keys)

	_, err = backend.Read(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	keys, err = backend.List(ctx, "not-there")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
