package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiofs/dasi/pkg/engine"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "pebble", v.GetString("catalogue"))
	assert.Equal(t, "file", v.GetString("store"))
	assert.Equal(t, "none", v.GetString("compression.algorithm"))
	assert.Equal(t, 256, v.GetInt("list_page_size"))
	assert.Equal(t, "us-east-1", v.GetString("s3.region"))
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	doc := `
schema: ./schema
catalogue: toc
spaces:
  - handler: Default
    roots:
      - path: ./root1
      - path: /abs/root2
        wipe: false
compression:
  algorithm: zstd
  level: 3
`
	path := filepath.Join(dir, "dasi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(engine.ConfigSource{Path: path})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "schema"), cfg.SchemaPath)
	assert.Equal(t, CataloguePebble, cfg.Catalogue)
	assert.Equal(t, StoreFile, cfg.Store)

	roots := cfg.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, filepath.Join(dir, "root1"), roots[0].Path)
	assert.True(t, roots[0].Wipeable())
	assert.Equal(t, "/abs/root2", roots[1].Path)
	assert.False(t, roots[1].Wipeable())

	assert.Equal(t, filepath.Join(dir, "root1", "catalogue"), cfg.CataloguePath)
	assert.Equal(t, "zstd", cfg.Compression.Algorithm)
	assert.Equal(t, 3, cfg.Compression.Level)
	assert.Equal(t, 256, cfg.ListPageSize)
}

func TestLoad_InlineDocument(t *testing.T) {
	dir := t.TempDir()
	doc := `
schema:
  - [key1, key2, key3, [key1a, key2a, key3a, [key1b, key2b, key3b]]]
catalogue: sqlite
catalogue_path: ` + filepath.Join(dir, "cat") + `
spaces:
  - roots:
      - path: ` + filepath.Join(dir, "root") + `
list_page_size: 10
`
	cfg, err := Load(engine.ConfigSource{Document: doc})
	require.NoError(t, err)

	assert.Empty(t, cfg.SchemaPath)
	assert.Equal(t, CatalogueSQLite, cfg.Catalogue)
	assert.Equal(t, filepath.Join(dir, "cat"), cfg.CataloguePath)
	assert.Equal(t, 10, cfg.ListPageSize)

	s, err := cfg.LoadSchema()
	require.NoError(t, err)
	require.Len(t, s.Paths(), 1)
	assert.Equal(t, 9, s.Paths()[0].Len())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing schema", "spaces: [{roots: [{path: /tmp/r}]}]"},
		{"bad schema type", "schema: 3\nspaces: [{roots: [{path: /tmp/r}]}]"},
		{"unknown catalogue", "schema: s\ncatalogue: rocks\nspaces: [{roots: [{path: /tmp/r}]}]"},
		{"unknown store", "schema: s\nstore: tape\nspaces: [{roots: [{path: /tmp/r}]}]"},
		{"file store without roots", "schema: s"},
		{"s3 without bucket", "schema: s\nstore: s3\ncatalogue: memory"},
		{"root without path", "schema: s\nspaces: [{roots: [{wipe: true}]}]"},
		{"bad compression", "schema: s\ncompression: {algorithm: brotli}\nspaces: [{roots: [{path: /tmp/r}]}]"},
		{"bad page size", "schema: s\nlist_page_size: -1\nspaces: [{roots: [{path: /tmp/r}]}]"},
		{"malformed yaml", "schema: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(engine.ConfigSource{Document: tt.doc})
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("no source", func(t *testing.T) {
		_, err := Load(engine.ConfigSource{})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(engine.ConfigSource{Path: filepath.Join(t.TempDir(), "nope.yaml")})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoad_S3WithMemoryCatalogue(t *testing.T) {
	cfg, err := Load(engine.ConfigSource{Document: `
schema: /etc/dasi/schema
store: s3
catalogue: memory
s3:
  endpoint: http://localhost:9000
  bucket: archive
  access_key: key
  secret_key: secret
`})
	require.NoError(t, err)
	assert.Equal(t, StoreS3, cfg.Store)
	assert.Equal(t, "archive", cfg.S3.Bucket)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.Empty(t, cfg.CataloguePath)
}

func TestDefaultMarshalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(filepath.Join(dir, "schema"), filepath.Join(dir, "root"))

	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(dir, "dasi.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))

	loaded, err := Load(engine.ConfigSource{Path: path})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "schema"), loaded.SchemaPath)
	assert.Equal(t, CataloguePebble, loaded.Catalogue)
	require.Len(t, loaded.Roots(), 1)
	assert.Equal(t, filepath.Join(dir, "root"), loaded.Roots()[0].Path)
}

func TestLoadCLI(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.PersistentFlags().String("config", "", "")
		cmd.PersistentFlags().String("log-level", "warn", "")
		cmd.PersistentFlags().String("log-format", "text", "")
		cmd.PersistentFlags().String("log-file", "", "")
		return cmd
	}

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadCLI(newCmd())
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Empty(t, cfg.ConfigFile)
	})

	t.Run("flags", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.PersistentFlags().Set("config", "/etc/dasi.yaml"))
		require.NoError(t, cmd.PersistentFlags().Set("log-level", "debug"))

		cfg, err := LoadCLI(cmd)
		require.NoError(t, err)
		assert.Equal(t, "/etc/dasi.yaml", cfg.ConfigFile)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("DASI_CONFIG", "/from/env.yaml")
		cfg, err := LoadCLI(newCmd())
		require.NoError(t, err)
		assert.Equal(t, "/from/env.yaml", cfg.ConfigFile)
	})
}
