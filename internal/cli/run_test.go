package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/feedsync/internal/config"
	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/persist"
	"github.com/roach88/feedsync/internal/remote"
)

func TestRunEngineSavesReconciledSnapshot(t *testing.T) {
	mem := remote.NewMemory()
	require.NoError(t, mem.Seed(
		model.InsertPost(model.Post{ID: "p1", AuthorID: "bob", Text: "from the backend", Likes: 4, CreatedAt: time.Now()}),
	))
	db := filepath.Join(t.TempDir(), "feedsync.db")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Viewer:      "alice",
		DSN:         db,
		Backend:     mem,
	}
	require.NoError(t, runEngine(opts, cmd))
	assert.Contains(t, out.String(), "Engine started for viewer alice.")

	sink, err := persist.Open(context.Background(), persist.DialectSQLite, db)
	require.NoError(t, err)
	defer sink.Close()
	data, err := sink.LoadSnapshot(context.Background())
	require.NoError(t, err)
	snap, err := entitystore.Decode(data)
	require.NoError(t, err)

	post, ok := snap.Post("p1")
	require.True(t, ok, "reconciled post must be persisted on shutdown")
	assert.Equal(t, int64(4), post.Likes)
}

func TestRunEngineRequiresBackend(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Viewer:      "alice",
		DSN:         filepath.Join(t.TempDir(), "feedsync.db"),
	}
	err := runEngine(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "api_url is required")
}

func TestRunEngineRejectsBadOverrides(t *testing.T) {
	_, err := execute(t, "run", "--driver", "mysql", "--viewer", "alice")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	opts := &RunOptions{
		APIURL:    "https://api.example.com",
		StreamURL: "wss://api.example.com/stream",
		Token:     "t",
		Viewer:    "alice",
		Driver:    "postgres",
		DSN:       "postgres://localhost/feedsync",
	}
	require.NoError(t, opts.applyOverrides(&cfg))

	assert.Equal(t, "https://api.example.com", cfg.Backend.APIURL)
	assert.Equal(t, "wss://api.example.com/stream", cfg.Backend.StreamURL)
	assert.Equal(t, "alice", cfg.ViewerID)
	assert.Equal(t, persist.DialectPostgres, cfg.Dialect())
	assert.Equal(t, "postgres://localhost/feedsync", cfg.Snapshot.DSN)

	unchanged := config.Default()
	require.NoError(t, (&RunOptions{}).applyOverrides(&unchanged))
	assert.Equal(t, config.Default(), unchanged)
}

func TestResolveViewer(t *testing.T) {
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{Subject: "dana"}).
		SignedString([]byte("test-key"))
	require.NoError(t, err)

	cfg := config.Default()
	_, err = resolveViewer(cfg)
	assert.Error(t, err)

	cfg.Backend.Token = token
	viewer, err := resolveViewer(cfg)
	require.NoError(t, err)
	assert.Equal(t, "dana", viewer)

	cfg.ViewerID = "alice"
	viewer, err = resolveViewer(cfg)
	require.NoError(t, err)
	assert.Equal(t, "alice", viewer)
}

func TestBuildBackendWithoutStream(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.APIURL = "https://api.example.com"

	logger := newLogger(cfg, false, &bytes.Buffer{})
	backend, stream, err := buildBackend(&RunOptions{}, cfg, nil, logger)
	require.NoError(t, err)
	assert.False(t, stream)
	composite, ok := backend.(remote.Composite)
	require.True(t, ok)
	assert.Nil(t, composite.Subscriber)

	cfg.Backend.StreamURL = "wss://api.example.com/stream"
	backend, stream, err = buildBackend(&RunOptions{}, cfg, nil, logger)
	require.NoError(t, err)
	assert.True(t, stream)
	assert.NotNil(t, backend.(remote.Composite).Subscriber)
}
