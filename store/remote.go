package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/stevemurr/recstore/record"
)

// Doer sends an HTTP request. *http.Client satisfies it; retries, auth and
// timeouts belong to the Doer.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Query parameters reserved for find options. Filter values are sent as
// JSON literals under their field name.
const (
	ParamLimit   = "limit"
	ParamOffset  = "offset"
	ParamOrderBy = "orderBy"
)

// maxErrorBody bounds how much of a rejected response is read.
const maxErrorBody = 4 << 20

var errNotFound = errors.New("not found")

// RemoteStore maps every operation onto one HTTP request against a base
// resource URL:
//
//	create      POST   /       record
//	update      PUT    /{id}   partial record
//	delete      DELETE /{id}
//	findById    GET    /{id}
//	findOne     GET    /       filter query, first result
//	findAll     GET    /
//	find        GET    /       filter + limit/offset/orderBy query
//	createMany  POST   /bulk   [record]
//	updateMany  PUT    /bulk   [{id, data}]
//	deleteMany  DELETE /bulk   [id]
//
// A 404 or a JSON null from the item routes means not found. Any other
// non-2xx status is returned as a *BackendError. Transactions are not
// supported.
type RemoteStore struct {
	base   string
	client Doer
	logger *slog.Logger
}

// RemoteOption configures a RemoteStore.
type RemoteOption func(*RemoteStore)

// WithDoer sets the HTTP transport. Defaults to http.DefaultClient.
func WithDoer(d Doer) RemoteOption {
	return func(s *RemoteStore) { s.client = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RemoteOption {
	return func(s *RemoteStore) { s.logger = l }
}

func NewRemoteStore(baseURL string, opts ...RemoteOption) (*RemoteStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", baseURL)
	}
	s := &RemoteStore{
		base:   strings.TrimRight(baseURL, "/"),
		client: http.DefaultClient,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EncodeQuery encodes a filter and find options as query parameters.
func EncodeQuery(filter record.Filter, opts record.FindOptions) (url.Values, error) {
	q := url.Values{}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b, err := json.Marshal(filter[k])
		if err != nil {
			return nil, fmt.Errorf("filter field %q: %w", k, err)
		}
		q.Set(k, string(b))
	}
	if opts.Limit > 0 {
		q.Set(ParamLimit, strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set(ParamOffset, strconv.Itoa(opts.Offset))
	}
	if opts.OrderBy != nil {
		dir := opts.OrderBy.Direction
		if dir == "" {
			dir = record.Asc
		}
		q.Set(ParamOrderBy, opts.OrderBy.Field+":"+string(dir))
	}
	return q, nil
}

// DecodeQuery is the inverse of EncodeQuery. Values that are not valid
// JSON are taken as plain strings.
func DecodeQuery(q url.Values) (record.Filter, record.FindOptions, error) {
	var opts record.FindOptions
	filter := record.Filter{}
	for k, vs := range q {
		if len(vs) == 0 {
			continue
		}
		v := vs[0]
		switch k {
		case ParamLimit, ParamOffset:
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, opts, fmt.Errorf("invalid %s %q", k, v)
			}
			if k == ParamLimit {
				opts.Limit = n
			} else {
				opts.Offset = n
			}
		case ParamOrderBy:
			field, dirText, _ := strings.Cut(v, ":")
			dir, err := record.ParseDirection(dirText)
			if err != nil {
				return nil, opts, err
			}
			if field == "" {
				return nil, opts, fmt.Errorf("invalid %s %q", k, v)
			}
			opts.OrderBy = &record.Order{Field: field, Direction: dir}
		default:
			var val any
			if err := json.Unmarshal([]byte(v), &val); err != nil {
				val = v
			}
			filter[k] = val
		}
	}
	return filter, opts, nil
}

// call sends one request. A 404 is reported as errNotFound when item is
// true. out may be nil.
func (s *RemoteStore) call(ctx context.Context, op, method, path string, q url.Values, body, out any, item bool) error {
	u := s.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode %s request: %v", ErrInvalidRecord, op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return backendErr("remote", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	s.logger.Debug("remote store request", "op", op, "method", method, "url", u)
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("remote store request failed", "op", op, "url", u, "error", err)
		return backendErr("remote", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && item {
		io.Copy(io.Discard, resp.Body)
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("remote store request rejected", "op", op, "url", u, "status", resp.StatusCode)
		return backendErr("remote", op, rejection(resp, method, u, out))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return backendErr("remote", op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// BulkFailure is the body of a failed bulk request: the per-element
// results, nil where the element failed, and the joined error text.
type BulkFailure struct {
	Results []record.Record `json:"results"`
	Detail  string          `json:"detail"`
}

// rejection builds the error for a non-2xx response. A bulk failure body
// carrying results is decoded into out, when out is a result slice.
func rejection(resp *http.Response, method, u string, out any) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var failure BulkFailure
	if recs, ok := out.(*[]record.Record); ok && json.Unmarshal(body, &failure) == nil && failure.Results != nil {
		*recs = failure.Results
		return fmt.Errorf("%s %s: status %d: %s", method, u, resp.StatusCode, failure.Detail)
	}
	return fmt.Errorf("%s %s: status %d: %s", method, u, resp.StatusCode, bytes.TrimSpace(body))
}

func itemPath(id string) string {
	return "/" + url.PathEscape(id)
}

func (s *RemoteStore) Create(ctx context.Context, data record.Record) (record.Record, error) {
	if data == nil {
		data = record.Record{}
	}
	var rec record.Record
	if err := s.call(ctx, "create", http.MethodPost, "/", nil, data, &rec, false); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RemoteStore) Update(ctx context.Context, id string, data record.Record) (record.Record, error) {
	var rec record.Record
	err := s.call(ctx, "update", http.MethodPut, itemPath(id), nil, data, &rec, true)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RemoteStore) Delete(ctx context.Context, id string) error {
	err := s.call(ctx, "delete", http.MethodDelete, itemPath(id), nil, nil, nil, true)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

func (s *RemoteStore) FindByID(ctx context.Context, id string) (record.Record, error) {
	var rec record.Record
	err := s.call(ctx, "findById", http.MethodGet, itemPath(id), nil, nil, &rec, true)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RemoteStore) list(ctx context.Context, op string, filter record.Filter, opts record.FindOptions) ([]record.Record, error) {
	q, err := EncodeQuery(filter, opts)
	if err != nil {
		return nil, err
	}
	var recs []record.Record
	if err := s.call(ctx, op, http.MethodGet, "/", q, nil, &recs, false); err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []record.Record{}
	}
	return recs, nil
}

func (s *RemoteStore) FindOne(ctx context.Context, filter record.Filter) (record.Record, error) {
	recs, err := s.list(ctx, "findOne", filter, record.FindOptions{})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (s *RemoteStore) FindAll(ctx context.Context) ([]record.Record, error) {
	return s.list(ctx, "findAll", nil, record.FindOptions{})
}

func (s *RemoteStore) Find(ctx context.Context, filter record.Filter, opts record.FindOptions) ([]record.Record, error) {
	return s.list(ctx, "find", filter, opts)
}

// CreateMany returns the results of the elements the server created even
// when others failed.
func (s *RemoteStore) CreateMany(ctx context.Context, data []record.Record) ([]record.Record, error) {
	var recs []record.Record
	err := s.call(ctx, "createMany", http.MethodPost, "/bulk", nil, data, &recs, false)
	return recs, err
}

// UpdateMany returns the per-element results even when some updates failed.
func (s *RemoteStore) UpdateMany(ctx context.Context, patches []record.Patch) ([]record.Record, error) {
	var recs []record.Record
	err := s.call(ctx, "updateMany", http.MethodPut, "/bulk", nil, patches, &recs, false)
	return recs, err
}

func (s *RemoteStore) DeleteMany(ctx context.Context, ids []string) error {
	return s.call(ctx, "deleteMany", http.MethodDelete, "/bulk", nil, ids, nil, false)
}

func (s *RemoteStore) BeginTransaction(context.Context) error {
	return fmt.Errorf("remote store: begin transaction: %w", ErrUnsupported)
}

func (s *RemoteStore) CommitTransaction(context.Context) error {
	return fmt.Errorf("remote store: commit transaction: %w", ErrUnsupported)
}

func (s *RemoteStore) RollbackTransaction(context.Context) error {
	return fmt.Errorf("remote store: rollback transaction: %w", ErrUnsupported)
}

func (s *RemoteStore) Close() error {
	return nil
}
