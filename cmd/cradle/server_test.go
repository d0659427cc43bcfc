package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"Cradle-storage/internal/config"
	"Cradle-storage/internal/cradle"
	"Cradle-storage/pkg/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testServer struct {
	client *api.Client
	url    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Backend = "memory"
	cfg.Instance = "test"
	cfg.Requests.PageSize = 2

	log := hclog.NewNullLogger()
	storage, err := cradle.Open(cfg, log)
	require.NoError(t, err)
	require.NoError(t, storage.Init(context.Background()))
	t.Cleanup(func() { storage.Dispose() })

	srv := httptest.NewServer(NewServer(storage, cfg, log).router)
	t.Cleanup(srv.Close)

	client := api.NewClient(&api.ClientConfig{
		Addresses:     []string{strings.TrimPrefix(srv.URL, "http://")},
		Timeout:       5 * time.Second,
		RetryAttempts: 0,
	})
	t.Cleanup(client.Close)
	t.Cleanup(http.DefaultClient.CloseIdleConnections)
	return &testServer{client: client, url: srv.URL}
}

func statusOfErr(t *testing.T, err error) *api.StatusError {
	t.Helper()
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	return se
}

func TestBookRoutes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	created := time.Now().Add(-time.Hour).UTC()

	b, err := ts.client.AddBook(ctx, &api.AddBookRequest{Name: "b1", Created: created, FirstPageName: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "b1", b.Name)
	require.Len(t, b.Pages, 1)
	assert.Equal(t, "p1", b.Pages[0].Name)
	assert.Nil(t, b.Pages[0].Ended)

	_, err = ts.client.AddBook(ctx, &api.AddBookRequest{Name: "b1"})
	se := statusOfErr(t, err)
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Equal(t, "book_already_exists", se.Kind)

	_, err = ts.client.Book(ctx, "missing")
	se = statusOfErr(t, err)
	assert.Equal(t, http.StatusNotFound, se.Status)

	b, err = ts.client.SwitchPage(ctx, "b1", &api.SwitchPageRequest{Name: "p2", Comment: "next"})
	require.NoError(t, err)
	require.Len(t, b.Pages, 2)
	require.NotNil(t, b.Pages[0].Ended)
	assert.Equal(t, "p2", b.Pages[1].Name)

	_, err = ts.client.SwitchPage(ctx, "b1", &api.SwitchPageRequest{Name: "p0", Start: created})
	se = statusOfErr(t, err)
	assert.Equal(t, http.StatusBadRequest, se.Status)

	books, err := ts.client.Books(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Len(t, books[0].Pages, 2)
}

func TestMessageRoutes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.client.AddBook(ctx, &api.AddBookRequest{Name: "b1", Created: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	now := time.Now().UTC()
	var msgs []api.Message
	for i := int64(1); i <= 5; i++ {
		msgs = append(msgs, api.Message{
			SessionAlias: "s1",
			Direction:    "FIRST",
			Sequence:     i,
			Timestamp:    now.Add(time.Duration(i) * time.Millisecond),
			Content:      []byte("message content"),
		})
	}
	resp, err := ts.client.StoreMessages(ctx, "b1", msgs)
	require.NoError(t, err)
	assert.Equal(t, "stored", resp.Status)
	assert.NotEmpty(t, resp.ID)

	after := int64(2)
	got, err := ts.client.Messages(ctx, "b1", api.MessageQuery{SessionAlias: "s1", Direction: "FIRST", AfterSequence: &after})
	require.NoError(t, err)
	require.Equal(t, 3, got.Count)
	assert.Equal(t, int64(3), got.Messages[0].Sequence)
	assert.Equal(t, []byte("message content"), got.Messages[0].Content)

	got, err = ts.client.Messages(ctx, "b1", api.MessageQuery{SessionAlias: "s1", Direction: "SECOND"})
	require.NoError(t, err)
	assert.Zero(t, got.Count)

	sessions, err := ts.client.Sessions(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, sessions)

	old := []api.Message{{SessionAlias: "s1", Direction: "FIRST", Sequence: 9, Timestamp: now.Add(-2 * time.Hour)}}
	_, err = ts.client.StoreMessages(ctx, "b1", old)
	se := statusOfErr(t, err)
	assert.Equal(t, http.StatusBadRequest, se.Status)

	_, err = ts.client.Messages(ctx, "b1", api.MessageQuery{SessionAlias: "s1", Direction: "sideways"})
	se = statusOfErr(t, err)
	assert.Equal(t, http.StatusBadRequest, se.Status)
}

func TestEventRoutes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.client.AddBook(ctx, &api.AddBookRequest{Name: "b1", Created: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	start := time.Now().UTC()
	root, err := ts.client.StoreEvent(ctx, "b1", &api.Event{Scope: "sc", Start: start, Name: "root", Success: true})
	require.NoError(t, err)
	require.NotEmpty(t, root.ID)

	child, err := ts.client.StoreEvent(ctx, "b1", &api.Event{
		Scope: "sc", Start: start.Add(time.Millisecond), Name: "child", ParentID: root.ID, Success: false,
	})
	require.NoError(t, err)
	assert.Empty(t, child.SecondaryError)

	all, err := ts.client.Events(ctx, "b1", api.EventQuery{Scope: "sc"})
	require.NoError(t, err)
	require.Equal(t, 2, all.Count)
	assert.Equal(t, "root", all.Events[0].Name)
	assert.False(t, all.Events[0].Success, "a failed child marks its parent failed")

	children, err := ts.client.Events(ctx, "b1", api.EventQuery{Scope: "sc", ParentID: root.ID})
	require.NoError(t, err)
	require.Equal(t, 1, children.Count)
	assert.Equal(t, "child", children.Events[0].Name)
	assert.Equal(t, child.ID, children.Events[0].FullID)

	scopes, err := ts.client.Scopes(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sc"}, scopes)

	_, err = ts.client.StoreEvent(ctx, "b1", &api.Event{Scope: "sc", Start: start})
	se := statusOfErr(t, err)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Equal(t, "validation", se.Kind)

	_, err = ts.client.Events(ctx, "b1", api.EventQuery{})
	se = statusOfErr(t, err)
	assert.Equal(t, http.StatusBadRequest, se.Status)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.client.Health(context.Background()))

	resp, err := http.Get(ts.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cradle_http_requests_total")
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusOf(io.ErrUnexpectedEOF))
}
