package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxErrorBodyBytes     = 2048
)

var errMissingBaseURL = errors.New("remote base url is required")

// HTTPRepositoryConfig captures the dependencies for the HTTP client.
type HTTPRepositoryConfig struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// HTTPRepository talks JSON over HTTP to the hosted note backend.
type HTTPRepository struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewHTTPRepository validates the configuration and returns a client.
func NewHTTPRepository(cfg HTTPRepositoryConfig) (*HTTPRepository, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPRepository{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Ping performs the lightweight reachability check used before a sync cycle
// and by the connectivity monitor's probe.
func (r *HTTPRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", notes.ErrConnectivity, err)
	}
	response, err := r.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", notes.ErrConnectivity, err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body) //nolint:errcheck

	if response.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: health returned status %d", notes.ErrConnectivity, response.StatusCode)
	}
	return nil
}

// GetAll fetches the authoritative note collection.
func (r *HTTPRepository) GetAll(ctx context.Context, filter Filter) ([]notes.Note, error) {
	query := url.Values{}
	if filter.ParentID != nil {
		query.Set("parent_id", *filter.ParentID)
	}
	if filter.Archived != nil {
		query.Set("archived", strconv.FormatBool(*filter.Archived))
	}
	if filter.Favorite != nil {
		query.Set("favorite", strconv.FormatBool(*filter.Favorite))
	}
	if filter.Tag != "" {
		query.Set("tag", filter.Tag)
	}
	path := "/notes"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var collection []notes.Note
	if err := r.doJSON(ctx, http.MethodGet, path, nil, &collection); err != nil {
		return nil, err
	}
	return collection, nil
}

// Create inserts a note. When the input carries a client-generated ID the
// backend honors it so queued follow-up operations stay addressable.
func (r *HTTPRepository) Create(ctx context.Context, input notes.CreateInput) (notes.Note, error) {
	var created notes.Note
	if err := r.doJSON(ctx, http.MethodPost, "/notes", input, &created); err != nil {
		return notes.Note{}, err
	}
	return created, nil
}

// Update patches a note.
func (r *HTTPRepository) Update(ctx context.Context, input notes.UpdateInput) (notes.Note, error) {
	var updated notes.Note
	path := "/notes/" + url.PathEscape(input.ID)
	if err := r.doJSON(ctx, http.MethodPatch, path, input, &updated); err != nil {
		return notes.Note{}, err
	}
	return updated, nil
}

// Delete removes a note.
func (r *HTTPRepository) Delete(ctx context.Context, noteID string) error {
	path := "/notes/" + url.PathEscape(noteID)
	return r.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Search runs a full-text query against the backend.
func (r *HTTPRepository) Search(ctx context.Context, searchQuery string) ([]SearchResult, error) {
	path := "/search?q=" + url.QueryEscape(searchQuery)
	var results []SearchResult
	if err := r.doJSON(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *HTTPRepository) doJSON(ctx context.Context, method, path string, body, target any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", notes.ErrConnectivity, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")

	response, err := r.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", notes.ErrConnectivity, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		operationError := &OperationError{
			Operation:  method + " " + path,
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
		r.logger.Warn("remote call rejected",
			zap.String("operation", operationError.Operation),
			zap.Int("status", response.StatusCode))
		return operationError
	}

	if target == nil {
		io.Copy(io.Discard, response.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: decode response: %v", notes.ErrRemoteOperation, err)
	}
	return nil
}
