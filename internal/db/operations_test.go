package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, Init(Config{Path: filepath.Join(t.TempDir(), "spool.db")}))
	t.Cleanup(func() { Close() })
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{Path: " "})
	assert.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")

	first, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer second.Close()

	applied, err := appliedVersions(second)
	require.NoError(t, err)
	assert.True(t, applied["001_registry"])
	assert.True(t, applied["002_webhooks"])
}

func TestWebhookOperations(t *testing.T) {
	initTestDB(t)
	ctx := context.Background()

	done := &Webhook{Name: "erp", URL: "http://erp.local/hook", EventsJSON: `["job_completed"]`, Enabled: true}
	failed := &Webhook{Name: "pager", URL: "http://pager.local/hook", Secret: "s3cret", EventsJSON: `["job_failed"]`, Enabled: true}
	off := &Webhook{Name: "zz-off", URL: "http://off.local/hook", EventsJSON: `["job_completed"]`, Enabled: false}
	for _, w := range []*Webhook{done, failed, off} {
		require.NoError(t, Webhooks.CreateWebhook(ctx, w))
		assert.NotZero(t, w.ID)
	}

	all, err := Webhooks.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "erp", all[0].Name)

	active, err := Webhooks.ListActiveWebhooksForEvent(ctx, "job_completed")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, done.ID, active[0].ID)

	failed.URL = "http://pager.local/v2"
	require.NoError(t, Webhooks.UpdateWebhook(ctx, failed))
	got, err := Webhooks.GetWebhookByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://pager.local/v2", got.URL)
	assert.Equal(t, "s3cret", got.Secret)

	require.NoError(t, Webhooks.DeleteWebhook(ctx, failed.ID))
	_, err = Webhooks.GetWebhookByID(ctx, failed.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
