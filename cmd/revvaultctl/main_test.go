package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lgulliver/revvault/internal/layout"
	"github.com/lgulliver/revvault/internal/storage"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKindArg(t *testing.T) {
	tests := []struct {
		arg      string
		expected types.Kind
		wantErr  bool
	}{
		{"apis", types.KindProxy, false},
		{"proxy", types.KindProxy, false},
		{"sharedflows", types.KindSharedFlow, false},
		{"sharedflow", types.KindSharedFlow, false},
		{"keystores", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			kind, err := parseKindArg(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, kind)
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestClassifyCmd(t *testing.T) {
	dir := t.TempDir()
	event := writeFile(t, dir, "event.json", `{
		"receiveTimestamp": "2025-03-04T05:06:07Z",
		"protoPayload": {
			"methodName": "google.cloud.apigee.v1.ApiProxyService.DeleteApiProxy",
			"resourceName": "organizations/acme/apis/orders"
		}
	}`)

	cmd := classifyCmd()
	cmd.SetArgs([]string{event})
	cmd.SetOut(&bytes.Buffer{})
	assert.NoError(t, cmd.Execute())

	bad := writeFile(t, dir, "bad.json", `{"protoPayload":{"methodName":"google.cloud.apigee.v1.ApiProxyService.DeleteApiProxy","resourceName":"organizations/acme/apis"}}`)
	cmd = classifyCmd()
	cmd.SetArgs([]string{bad})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestArchiveCmd_LocalStorage(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "bundles")
	configPath = writeFile(t, dir, "revvault.yaml", `
upstream:
  org: acme
storage:
  type: local
  local_path: `+root+`
  concurrency: 2
logging:
  level: error
`)
	defer func() { configPath = "" }()

	store, err := storage.NewLocalStorage(root)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Store(ctx, "apis/orders/1/metadata.json", bytes.NewReader([]byte(`{}`)), "application/json"))

	cmd := archiveCmd()
	cmd.SetArgs([]string{"apis", "orders"})
	require.NoError(t, cmd.Execute())

	exists, err := store.Exists(ctx, layout.ArchivePrefix(types.KindProxy, "orders")+layout.MarkerName)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "apis/zzARCHIVE/orders/1/metadata.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMigrateAndDeliveriesCmd_Sqlite(t *testing.T) {
	dir := t.TempDir()
	configPath = writeFile(t, dir, "revvault.yaml", `
database:
  driver: sqlite
  path: `+filepath.Join(dir, "ledger.db")+`
logging:
  level: error
`)
	defer func() { configPath = "" }()

	cmd := migrateCmd()
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	cmd = deliveriesCmd()
	cmd.SetArgs([]string{"--limit", "5"})
	assert.NoError(t, cmd.Execute())
}
