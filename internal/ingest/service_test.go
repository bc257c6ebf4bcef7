package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/lgulliver/revvault/internal/bundle"
	"github.com/lgulliver/revvault/internal/events"
	"github.com/lgulliver/revvault/internal/storage"
	"github.com/lgulliver/revvault/pkg/config"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockHandler implements Handler for testing
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Handle(ctx context.Context, env *events.Envelope) (events.Result, error) {
	args := m.Called(ctx, env)
	return args.Get(0).(events.Result), args.Error(1)
}

// MockRecorder implements Recorder for testing
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, record *types.DeliveryRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

const deleteProxyBody = `{
	"receiveTimestamp": "2025-03-04T05:06:07Z",
	"protoPayload": {
		"methodName": "google.cloud.apigee.v1.ApiProxyService.DeleteApiProxy",
		"resourceName": "organizations/acme/apis/orders"
	}
}`

func TestService_Process(t *testing.T) {
	handler := new(MockHandler)
	recorder := new(MockRecorder)
	svc := NewService(handler, recorder)
	deliveryID := uuid.New()

	result := events.Result{
		Method:     "google.cloud.apigee.v1.ApiProxyService.DeleteApiProxy",
		Resource:   "organizations/acme/apis/orders",
		Transition: events.TransitionArtifactDeleted,
		Outcome:    types.OutcomeOK,
		Ref:        types.ArtifactRef{Org: "acme", Kind: types.KindProxy, Name: "orders"},
		Actor:      "unknown",
	}
	handler.On("Handle", mock.Anything, mock.MatchedBy(func(env *events.Envelope) bool {
		return env.ProtoPayload.ResourceName == "organizations/acme/apis/orders"
	})).Return(result, nil)
	recorder.On("Record", mock.Anything, mock.MatchedBy(func(r *types.DeliveryRecord) bool {
		return r.ID == deliveryID &&
			r.Transition == "artifact_deleted" &&
			r.Kind == "apis" &&
			r.Name == "orders" &&
			r.Outcome == types.OutcomeOK &&
			r.ReceivedAt == "2025-03-04T05:06:07Z" &&
			r.Error == ""
	})).Return(nil)

	res, err := svc.Process(context.Background(), deliveryID.String(), []byte(deleteProxyBody))
	require.NoError(t, err)
	assert.Equal(t, result, res)

	handler.AssertExpectations(t)
	recorder.AssertExpectations(t)
}

func TestService_ProcessInvalidBody(t *testing.T) {
	handler := new(MockHandler)
	recorder := new(MockRecorder)
	svc := NewService(handler, recorder)

	recorder.On("Record", mock.Anything, mock.MatchedBy(func(r *types.DeliveryRecord) bool {
		return r.Outcome == types.OutcomeFailed && r.Error != ""
	})).Return(nil)

	res, err := svc.Process(context.Background(), "not-a-uuid", []byte(`{"unrelated":true}`))
	assert.True(t, errors.Is(err, events.ErrInvalidPayload))
	assert.Equal(t, types.OutcomeFailed, res.Outcome)

	handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	recorder.AssertExpectations(t)
}

func TestService_HandlerErrorIsReturned(t *testing.T) {
	handler := new(MockHandler)
	svc := NewService(handler, nil)

	handleErr := errors.New("upstream returned 500")
	handler.On("Handle", mock.Anything, mock.Anything).
		Return(events.Result{Transition: events.TransitionRevisionCreated, Outcome: types.OutcomeFailed}, handleErr)

	_, err := svc.Process(context.Background(), "", []byte(deleteProxyBody))
	assert.Equal(t, handleErr, err)
}

func TestService_LedgerFailureDoesNotFailDelivery(t *testing.T) {
	handler := new(MockHandler)
	recorder := new(MockRecorder)
	svc := NewService(handler, recorder)

	handler.On("Handle", mock.Anything, mock.Anything).
		Return(events.Result{Transition: events.TransitionIgnored, Outcome: types.OutcomeIgnored}, nil)
	recorder.On("Record", mock.Anything, mock.Anything).Return(errors.New("database is locked"))

	res, err := svc.Process(context.Background(), "", []byte(deleteProxyBody))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeIgnored, res.Outcome)
	recorder.AssertExpectations(t)
}

type staticFetcher struct {
	buf []byte
}

func (f staticFetcher) FetchRevisionBundle(ctx context.Context, org string, kind types.Kind, name, revision string) ([]byte, error) {
	return f.buf, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.LoadFromEnv()
	cfg.Upstream.Org = "acme"
	cfg.Storage.Type = "local"
	cfg.Storage.LocalPath = t.TempDir()
	cfg.Storage.Concurrency = 2
	cfg.Database.Enabled = true
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "ledger.db")
	return cfg
}

func TestAssemble_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	store, err := storage.NewLocalStorage(cfg.Storage.LocalPath)
	require.NoError(t, err)

	raw, err := bundle.WriteEntries([]bundle.Entry{
		{Path: "sharedflowbundle/auth.xml", Data: []byte(`<SharedFlowBundle name="auth"/>`)},
	})
	require.NoError(t, err)

	c, err := assemble(cfg, store, staticFetcher{buf: raw})
	require.NoError(t, err)
	defer c.Close()

	body := `{
		"receiveTimestamp": "2025-03-04T05:06:07Z",
		"protoPayload": {
			"methodName": "google.cloud.apigee.v1.SharedFlowService.CreateSharedFlowRevision",
			"resourceName": "organizations/acme/sharedflows/auth",
			"response": {"name": "auth", "revision": "1"},
			"authenticationInfo": {"principalEmail": "dev@example.com"}
		}
	}`
	res, err := c.Service.Process(context.Background(), uuid.NewString(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeOK, res.Outcome)

	meta, err := c.Layout.ReadMetadata(context.Background(), types.KindSharedFlow, "auth", "1")
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", meta.AuthenticatedUser)
	assert.False(t, meta.IsDeleted())

	revisions, err := c.Layout.ListRevisions(context.Background(), types.KindSharedFlow, "auth")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, revisions)

	records, err := c.Ledger.Recent(context.Background(), types.DeliveryFilter{Name: "auth"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "revision_created", records[0].Transition)
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upstream.Org = ""

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream org is required")
}

// closableStore counts Close calls on a wrapped store
type closableStore struct {
	storage.BlobStorage
	closed int
}

func (s *closableStore) Close() error {
	s.closed++
	return nil
}

func TestAssemble_ClosesStoreOnFailure(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0644))

	tests := []struct {
		name   string
		driver string
		path   string
	}{
		{name: "unsupported ledger driver", driver: "oracle"},
		{name: "unreachable ledger database", driver: "sqlite", path: filepath.Join(notADir, "ledger.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Database.Driver = tt.driver
			cfg.Database.Path = tt.path

			local, err := storage.NewLocalStorage(cfg.Storage.LocalPath)
			require.NoError(t, err)
			store := &closableStore{BlobStorage: local}

			c, err := assemble(cfg, store, staticFetcher{})
			require.Error(t, err)
			assert.Nil(t, c)
			assert.Equal(t, 1, store.closed)
		})
	}
}

func TestComponents_CloseReleasesStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Enabled = false

	local, err := storage.NewLocalStorage(cfg.Storage.LocalPath)
	require.NoError(t, err)
	store := &closableStore{BlobStorage: local}

	c, err := assemble(cfg, store, staticFetcher{})
	require.NoError(t, err)
	assert.Equal(t, 0, store.closed)

	c.Close()
	assert.Equal(t, 1, store.closed)
}
