package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   string
}

// recorder answers every request with a fixed status and body and
// remembers what it received.
type recorder struct {
	mu     sync.Mutex
	status int
	body   string
	reqs   []capturedRequest
}

func (rc *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	rc.reqs = append(rc.reqs, capturedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: string(b)})
	rc.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rc.status)
	io.WriteString(w, rc.body)
}

func (rc *recorder) last() capturedRequest {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.reqs[len(rc.reqs)-1]
}

func newRecorded(t *testing.T, status int, body string) (*store.RemoteStore, *recorder) {
	t.Helper()
	rc := &recorder{status: status, body: body}
	ts := httptest.NewServer(rc)
	t.Cleanup(ts.Close)
	s, err := store.NewRemoteStore(ts.URL+"/api/products/", store.WithDoer(ts.Client()))
	require.NoError(t, err)
	return s, rc
}

func TestRemoteStoreRequestMapping(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		body   string
		call   func(s *store.RemoteStore) error
		method string
		path   string
		sent   string
	}{
		{"create", `{"id":"1"}`, func(s *store.RemoteStore) error {
			_, err := s.Create(ctx, record.Record{"name": "Widget"})
			return err
		}, "POST", "/api/products/", `{"name":"Widget"}`},
		{"update", `{"id":"1"}`, func(s *store.RemoteStore) error {
			_, err := s.Update(ctx, "1", record.Record{"price": 5})
			return err
		}, "PUT", "/api/products/1", `{"price":5}`},
		{"delete", `{}`, func(s *store.RemoteStore) error {
			return s.Delete(ctx, "1")
		}, "DELETE", "/api/products/1", ""},
		{"findById", `{"id":"1"}`, func(s *store.RemoteStore) error {
			_, err := s.FindByID(ctx, "1")
			return err
		}, "GET", "/api/products/1", ""},
		{"findAll", `[]`, func(s *store.RemoteStore) error {
			_, err := s.FindAll(ctx)
			return err
		}, "GET", "/api/products/", ""},
		{"createMany", `[]`, func(s *store.RemoteStore) error {
			_, err := s.CreateMany(ctx, []record.Record{{"name": "a"}})
			return err
		}, "POST", "/api/products/bulk", `[{"name":"a"}]`},
		{"updateMany", `[]`, func(s *store.RemoteStore) error {
			_, err := s.UpdateMany(ctx, []record.Patch{{ID: "1", Data: record.Record{"n": 1}}})
			return err
		}, "PUT", "/api/products/bulk", `[{"id":"1","data":{"n":1}}]`},
		{"deleteMany", `{}`, func(s *store.RemoteStore) error {
			return s.DeleteMany(ctx, []string{"1", "2"})
		}, "DELETE", "/api/products/bulk", `["1","2"]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, rc := newRecorded(t, http.StatusOK, tc.body)
			require.NoError(t, tc.call(s))
			req := rc.last()
			assert.Equal(t, tc.method, req.Method)
			assert.Equal(t, tc.path, req.Path)
			if tc.sent == "" {
				assert.Empty(t, req.Body)
			} else {
				assert.JSONEq(t, tc.sent, req.Body)
			}
		})
	}
}

func TestRemoteStoreFindQuery(t *testing.T) {
	s, rc := newRecorded(t, http.StatusOK, `[{"id":"1","name":"Widget"},{"id":"2","name":"Widget"}]`)

	recs, err := s.Find(context.Background(), record.Filter{"name": "Widget", "price": 100}, record.FindOptions{
		Limit:   5,
		Offset:  10,
		OrderBy: &record.Order{Field: "price", Direction: record.Desc},
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	q := rc.last().Query
	assert.Equal(t, `"Widget"`, q.Get("name"))
	assert.Equal(t, "100", q.Get("price"))
	assert.Equal(t, "5", q.Get("limit"))
	assert.Equal(t, "10", q.Get("offset"))
	assert.Equal(t, "price:desc", q.Get("orderBy"))

	one, err := s.FindOne(context.Background(), record.Filter{"name": "Widget"})
	require.NoError(t, err)
	assert.Equal(t, "1", one.ID())
	assert.Equal(t, url.Values{"name": {`"Widget"`}}, rc.last().Query)
}

func TestRemoteStoreNotFound(t *testing.T) {
	ctx := context.Background()

	s, _ := newRecorded(t, http.StatusNotFound, `{"detail":"not found"}`)
	got, err := s.FindByID(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.Update(ctx, "x", record.Record{"a": 1})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, s.Delete(ctx, "x"))

	s, _ = newRecorded(t, http.StatusOK, `null`)
	got, err = s.FindByID(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, got)

	s, _ = newRecorded(t, http.StatusOK, `[]`)
	got, err = s.FindOne(ctx, record.Filter{"a": 1})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRemoteStoreBackendErrors(t *testing.T) {
	ctx := context.Background()

	s, _ := newRecorded(t, http.StatusInternalServerError, `{"detail":"boom"}`)
	_, err := s.Create(ctx, record.Record{"a": 1})
	var be *store.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "remote", be.Backend)
	assert.Equal(t, "create", be.Op)
	assert.Contains(t, err.Error(), "boom")

	_, err = s.FindAll(ctx)
	assert.ErrorAs(t, err, &be)

	s, _ = newRecorded(t, http.StatusNotFound, `{}`)
	_, err = s.FindAll(ctx)
	assert.ErrorAs(t, err, &be, "404 on a collection route is a failure")

	s, _ = newRecorded(t, http.StatusOK, `{not json`)
	_, err = s.FindByID(ctx, "x")
	assert.ErrorAs(t, err, &be)
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestRemoteStoreTransportError(t *testing.T) {
	s, err := store.NewRemoteStore("http://example.invalid/products", store.WithDoer(failingDoer{}))
	require.NoError(t, err)

	_, err = s.FindByID(context.Background(), "x")
	var be *store.BackendError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Err.Error(), "connection refused")
}

func TestRemoteStoreTransactionsUnsupported(t *testing.T) {
	ctx := context.Background()
	s, rc := newRecorded(t, http.StatusOK, `{}`)

	assert.ErrorIs(t, s.BeginTransaction(ctx), store.ErrUnsupported)
	assert.ErrorIs(t, s.CommitTransaction(ctx), store.ErrUnsupported)
	assert.ErrorIs(t, s.RollbackTransaction(ctx), store.ErrUnsupported)
	assert.Empty(t, rc.reqs, "no request is sent")
}

func TestNewRemoteStoreInvalidEndpoint(t *testing.T) {
	_, err := store.NewRemoteStore("ftp://example.com/x")
	assert.Error(t, err)
	_, err = store.NewRemoteStore("://bad")
	assert.Error(t, err)
}

func TestQueryRoundTrip(t *testing.T) {
	filter := record.Filter{"name": "Widget", "price": 100, "active": true, "code": "42"}
	opts := record.FindOptions{Limit: 3, Offset: 1, OrderBy: &record.Order{Field: "name", Direction: record.Asc}}

	q, err := store.EncodeQuery(filter, opts)
	require.NoError(t, err)
	gotFilter, gotOpts, err := store.DecodeQuery(q)
	require.NoError(t, err)

	assert.Equal(t, record.Filter{"name": "Widget", "price": float64(100), "active": true, "code": "42"}, gotFilter)
	assert.Equal(t, opts, gotOpts)

	plain, _, err := store.DecodeQuery(url.Values{"name": {"Widget"}})
	require.NoError(t, err)
	assert.Equal(t, "Widget", plain["name"], "non-JSON values are plain strings")

	_, _, err = store.DecodeQuery(url.Values{"limit": {"-1"}})
	assert.Error(t, err)
	_, _, err = store.DecodeQuery(url.Values{"orderBy": {"name:up"}})
	assert.Error(t, err)
}

func TestRemoteStoreSendsJSONContentType(t *testing.T) {
	var gotType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		json.NewEncoder(w).Encode(map[string]any{"id": "1"})
	}))
	defer ts.Close()

	s, err := store.NewRemoteStore(ts.URL)
	require.NoError(t, err)
	_, err = s.Create(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotType)
}

func TestRemoteStoreBulkPartialFailure(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore(widgets)
	_, err := backend.Create(ctx, record.Record{"id": "dup", "name": "existing"})
	require.NoError(t, err)
	s := newRemote(t, backend)

	recs, err := s.CreateMany(ctx, []record.Record{
		{"name": "a"},
		{"id": "dup", "name": "again"},
		{"name": "b"},
	})
	require.Error(t, err)
	var be *store.BackendError
	assert.ErrorAs(t, err, &be)
	assert.Contains(t, err.Error(), "409")
	require.Len(t, recs, 3, "results of the elements that succeeded come back")
	assert.Equal(t, "a", recs[0]["name"])
	assert.Nil(t, recs[1])
	assert.Equal(t, "b", recs[2]["name"])

	created, err := backend.FindByID(ctx, recs[0].ID())
	require.NoError(t, err)
	assert.NotNil(t, created)

	all, err := backend.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRemoteStoreBulkUpdatePartialFailure(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore(widgets)
	_, err := backend.Create(ctx, record.Record{"id": "a", "name": "A"})
	require.NoError(t, err)

	failing := &failingUpdates{Store: backend, fail: "b"}
	s := newRemote(t, failing)

	recs, err := s.UpdateMany(ctx, []record.Patch{
		{ID: "b", Data: record.Record{"n": 1}},
		{ID: "a", Data: record.Record{"n": 2}},
	})
	require.Error(t, err)
	require.Len(t, recs, 2)
	assert.Nil(t, recs[0])
	assert.Equal(t, float64(2), recs[1]["n"])
}

// failingUpdates fails every update of one id.
type failingUpdates struct {
	store.Store
	fail string
}

func (f *failingUpdates) Update(ctx context.Context, id string, data record.Record) (record.Record, error) {
	if id == f.fail {
		return nil, errors.New("disk full")
	}
	return f.Store.Update(ctx, id, data)
}

func (f *failingUpdates) UpdateMany(ctx context.Context, patches []record.Patch) ([]record.Record, error) {
	out := make([]record.Record, len(patches))
	var errs []error
	for i, p := range patches {
		rec, err := f.Update(ctx, p.ID, p.Data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[i] = rec
	}
	return out, errors.Join(errs...)
}
