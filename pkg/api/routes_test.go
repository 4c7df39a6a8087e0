package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/protocol"
)

// fakeManager scripts lifecycle responses for handler tests.
type fakeManager struct {
	startInst  backend.Instance
	startErr   error
	stopErr    error
	statusInst backend.Instance
	statusErr  error
	list       []backend.Instance
	listErr    error
	logs       string
	logsErr    error
	execResp   *protocol.Message
	execErr    error

	lastStartCfg backend.ServerConfig
	lastID       string
	lastTail     int
	lastExecMsg  *protocol.Message
}

func (f *fakeManager) Start(_ context.Context, cfg backend.ServerConfig) (backend.Instance, error) {
	f.lastStartCfg = cfg
	return f.startInst, f.startErr
}

func (f *fakeManager) Stop(_ context.Context, id string) error {
	f.lastID = id
	return f.stopErr
}

func (f *fakeManager) Status(_ context.Context, id string) (backend.Instance, error) {
	f.lastID = id
	return f.statusInst, f.statusErr
}

func (f *fakeManager) List(_ context.Context) ([]backend.Instance, error) {
	return f.list, f.listErr
}

func (f *fakeManager) Logs(_ context.Context, id string, tail int) (string, error) {
	f.lastID = id
	f.lastTail = tail
	return f.logs, f.logsErr
}

func (f *fakeManager) Execute(_ context.Context, id string, msg *protocol.Message) (*protocol.Message, error) {
	f.lastID = id
	f.lastExecMsg = msg
	return f.execResp, f.execErr
}

func doRequest(t *testing.T, fm *fakeManager, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req := httptest.NewRequest(method, target, &reqBody)
	rec := httptest.NewRecorder()
	Router(fm).ServeHTTP(rec, req)
	return rec
}

func TestStartServerAccepted(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{
		startInst: backend.Instance{ID: "abc-123", State: backend.StateProvisioning, Tag: backend.TagCluster},
	}
	cfg := backend.ServerConfig{Kind: backend.KindNpx, Package: "mcp-server-time", Transport: backend.TransportStdio}

	rec := doRequest(t, fm, http.MethodPost, "/mcp/start", cfg)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc-123", resp.ServerID)
	assert.Equal(t, backend.StateProvisioning, resp.State)
	assert.Equal(t, backend.KindNpx, fm.lastStartCfg.Kind)
}

func TestStartServerValidationFailure(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{startErr: errors.NewConfigValidationError("package is required", nil)}
	cfg := backend.ServerConfig{Kind: backend.KindNpx, Transport: backend.TransportStdio}

	rec := doRequest(t, fm, http.MethodPost, "/mcp/start", cfg)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrConfigValidation, resp.Type)
}

func TestStartServerMalformedBody(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{}
	req := httptest.NewRequest(http.MethodPost, "/mcp/start", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	Router(fm).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartServerBackendUnavailable(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{startErr: errors.NewBackendUnavailableError("no healthy backend", nil)}
	cfg := backend.ServerConfig{Kind: backend.KindNpx, Package: "x", Transport: backend.TransportStdio}

	rec := doRequest(t, fm, http.MethodPost, "/mcp/start", cfg)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartServerCreationFailureCarriesCause(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{startErr: errors.NewPodCreationError(errors.CauseImagePullFailure, "pull failed", nil)}
	cfg := backend.ServerConfig{Kind: backend.KindImage, Image: "ghcr.io/x", Transport: backend.TransportStdio}

	rec := doRequest(t, fm, http.MethodPost, "/mcp/start", cfg)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrPodCreation, resp.Type)
	assert.Equal(t, errors.CauseImagePullFailure, resp.Cause)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{
		statusInst: backend.Instance{ID: "abc", State: backend.StateReady, Tag: backend.TagLocal},
	}

	rec := doRequest(t, fm, http.MethodGet, "/mcp/status?id=abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp.ServerID)
	assert.Equal(t, backend.StateReady, resp.State)
	assert.Equal(t, backend.TagLocal, resp.Backend)
	assert.Equal(t, "abc", fm.lastID)
}

func TestGetStatusMissingID(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, &fakeManager{}, http.MethodGet, "/mcp/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatusNotFound(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{statusErr: errors.NewNotFoundError("unknown instance zzz", nil)}
	rec := doRequest(t, fm, http.MethodGet, "/mcp/status?id=zzz", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListServers(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{list: []backend.Instance{
		{ID: "one", State: backend.StateReady, Tag: backend.TagCluster},
		{ID: "two", State: backend.StateRunning, Tag: backend.TagCluster},
	}}

	rec := doRequest(t, fm, http.MethodGet, "/mcp/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Servers, 2)
}

func TestListServersEmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, &fakeManager{}, http.MethodGet, "/mcp/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"servers":[]}`, rec.Body.String())
}

func TestStopServer(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{}
	rec := doRequest(t, fm, http.MethodDelete, "/mcp/stop?id=abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp stopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, backend.StateTerminating, resp.State)
	assert.Equal(t, "abc", fm.lastID)
}

func TestStopServerNotFoundIsInformational(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{stopErr: errors.NewNotFoundError("unknown instance abc", nil)}
	rec := doRequest(t, fm, http.MethodDelete, "/mcp/stop?id=abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp stopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, backend.StateNotFound, resp.State)
	assert.Equal(t, "abc", resp.ServerID)
}

func TestExecuteServer(t *testing.T) {
	t.Parallel()

	resp, err := protocol.NewResponse(7, map[string]any{"tools": []any{}})
	require.NoError(t, err)
	fm := &fakeManager{execResp: resp}

	req, err := protocol.NewRequest("tools/list", map[string]any{}, 7)
	require.NoError(t, err)

	rec := doRequest(t, fm, http.MethodPost, "/mcp/execute?id=abc", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", fm.lastID)
	require.NotNil(t, fm.lastExecMsg)
	assert.Equal(t, "tools/list", fm.lastExecMsg.Method)

	var out protocol.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.JSONEq(t, `{"tools":[]}`, string(out.Result))
}

func TestExecuteServerNotificationAccepted(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{}
	note, err := protocol.NewNotification("notifications/progress", map[string]any{})
	require.NoError(t, err)

	rec := doRequest(t, fm, http.MethodPost, "/mcp/execute?id=abc", note)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestExecuteServerMissingID(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, &fakeManager{}, http.MethodPost, "/mcp/execute", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLogs(t *testing.T) {
	t.Parallel()

	fm := &fakeManager{logs: "line one\nline two\n"}
	rec := doRequest(t, fm, http.MethodGet, "/mcp/logs?id=abc&tail=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp logsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "line one\nline two\n", resp.Logs)
	assert.Equal(t, 50, fm.lastTail)
}

func TestGetLogsBadTail(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, &fakeManager{}, http.MethodGet, "/mcp/logs?id=abc&tail=minus-one", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, &fakeManager{}, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
