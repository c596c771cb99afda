package blockstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/probeerr"
)

const (
	// DefaultManifestName is the manifest file looked up when the
	// configuration does not override it.
	DefaultManifestName = "topic-directive.yaml"
	featuresDir         = "features"
	evidencePrefix      = "evidence"
)

// ProviderConfig selects and parameterizes the storage provider.
type ProviderConfig struct {
	// Provider overrides scheme-based selection; empty means "by scheme".
	Provider string
	S3       S3Config
	Azure    AzureConfig
	// LocalRoot roots the file scheme; empty means the filesystem root.
	LocalRoot string
	// ManifestName overrides DefaultManifestName.
	ManifestName string
}

// Child performs the two storage operations scoped to one test: fetching
// the test package into the in-memory filesystem and uploading evidence.
type Child struct {
	config ProviderConfig
	logger *slog.Logger

	// openBackend is swappable in tests.
	openBackend func(ctx context.Context, loc Location) (Backend, error)
}

// NewChild builds a storage child for one test.
func NewChild(cfg ProviderConfig, logger *slog.Logger) *Child {
	c := &Child{config: cfg, logger: logger}
	c.openBackend = c.defaultOpenBackend
	return c
}

func (c *Child) defaultOpenBackend(ctx context.Context, loc Location) (Backend, error) {
	scheme := loc.Scheme
	if c.config.Provider != "" {
		scheme = c.config.Provider
	}
	switch scheme {
	case "s3":
		return NewS3Backend(c.config.S3, loc.Bucket)
	case "gs":
		return NewGCSBackend(ctx, loc.Bucket)
	case "azure":
		return NewAzureBackend(c.config.Azure, loc.Bucket)
	case "file":
		root := c.config.LocalRoot
		if root == "" {
			root = "/"
		}
		return NewLocalBackend(root), nil
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", scheme)
	}
}

func (c *Child) manifestName() string {
	if c.config.ManifestName != "" {
		return c.config.ManifestName
	}
	return DefaultManifestName
}

// FetchResult is the outcome of a successful package fetch.
type FetchResult struct {
	Directive *directive.BlockStorageDirective
	// FeatureFiles are the in-memory paths materialized under
	// the directive's jimfsLocation, in listing order.
	FeatureFiles []string
}

// Fetch downloads the manifest and the features tree into fs, preserving
// directory nesting verbatim under the directive's jimfsLocation.
func (c *Child) Fetch(ctx context.Context, fs afero.Fs, bucket string) (*FetchResult, error) {
	loc, err := ParseBucketURI(bucket)
	if err != nil {
		return nil, probeerr.Wrap(probeerr.KindBucketUriParse, err, "cannot parse bucket uri")
	}

	backend, err := c.openBackend(ctx, loc)
	if err != nil {
		return nil, probeerr.Wrap(probeerr.KindBucketUriParse, err, "cannot open storage backend")
	}

	manifestKey := joinKey(loc.Prefix, c.manifestName())
	manifestData, err := backend.Read(ctx, manifestKey)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, probeerr.New(probeerr.KindMissingTopicDirectiveFile, "manifest %s not found in %s", c.manifestName(), bucket)
		}
		return nil, probeerr.Wrap(probeerr.KindMissingTopicDirectiveFile, err, "failed to fetch manifest")
	}

	d, err := directive.Decode(manifestData)
	if err != nil {
		return nil, probeerr.Wrap(probeerr.KindInvalidTopicDirectiveFormat, err, "manifest does not parse")
	}
	if errs := directive.Validate(d); len(errs) > 0 {
		return nil, probeerr.New(probeerr.KindInvalidTopicDirectiveFormat, "%s", strings.Join(errs, "; "))
	}
	d.Bucket = bucket

	featureKeys, err := backend.List(ctx, joinKey(loc.Prefix, featuresDir))
	if err != nil {
		return nil, probeerr.Wrap(probeerr.KindMissingFeaturesDirectory, err, "failed to list features")
	}
	if len(featureKeys) == 0 {
		return nil, probeerr.New(probeerr.KindMissingFeaturesDirectory, "bucket %s has no features directory or it is empty", bucket)
	}

	result := &FetchResult{Directive: d}
	featuresRoot := joinKey(loc.Prefix, featuresDir)
	for _, key := range featureKeys {
		data, err := backend.Read(ctx, key)
		if err != nil {
			return nil, probeerr.Wrap(probeerr.KindMissingFeaturesDirectory, err, "failed to fetch feature %s", key)
		}
		rel := trimPrefix(key, featuresRoot)
		target := path.Join(d.JimfsLocation, featuresDir, rel)
		if err := afero.WriteFile(fs, target, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to materialize feature %s: %w", target, err)
		}
		result.FeatureFiles = append(result.FeatureFiles, target)
	}

	c.logger.Info("test package fetched",
		"bucket", bucket, "features", len(result.FeatureFiles), "topics", len(d.TopicDirectives))
	return result, nil
}

// Upload copies every file under evidenceDir in fs to
// <bucket>/evidence/<relative path>. A missing evidence directory is a
// successful no-op.
func (c *Child) Upload(ctx context.Context, fs afero.Fs, evidenceDir, bucket string) error {
	loc, err := ParseBucketURI(bucket)
	if err != nil {
		return probeerr.Wrap(probeerr.KindBucketUriParse, err, "cannot parse bucket uri")
	}

	exists, err := afero.DirExists(fs, evidenceDir)
	if err != nil {
		return fmt.Errorf("failed to stat evidence directory: %w", err)
	}
	if !exists {
		c.logger.Info("no evidence directory, skipping upload", "evidenceDir", evidenceDir)
		return nil
	}

	backend, err := c.openBackend(ctx, loc)
	if err != nil {
		return probeerr.Wrap(probeerr.KindBucketUriParse, err, "cannot open storage backend")
	}

	uploaded := 0
	err = afero.Walk(fs, evidenceDir, func(filePath string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		data, err := afero.ReadFile(fs, filePath)
		if err != nil {
			return fmt.Errorf("failed to read evidence file %s: %w", filePath, err)
		}
		rel := trimPrefix(filePath, evidenceDir)
		key := joinKey(loc.Prefix, evidencePrefix, rel)
		if err := backend.Write(ctx, key, data); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return fmt.Errorf("evidence upload failed: %w", err)
	}

	c.logger.Info("evidence uploaded", "bucket", bucket, "files", uploaded)
	return nil
}
