// Package osmapi fetches pages of changed notes from the upstream
// search API. The API exposes no pagination cursor: callers exhaust a
// time window by shrinking the upper bound themselves using the data a
// page returned.
package osmapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/notesreview/notesync/internal/notes"
	"go.uber.org/zap"
)

const searchPath = "/notes/search.json"

var errMissingBaseURL = errors.New("osmapi: base url is required")

// ClientConfig carries the dependencies of a Client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client performs exactly one upstream request per Fetch call and never
// retries; a transport or decode failure is fatal to the caller's run so
// that re-running from the old watermark observes the missed data.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Geometry   geometry   `json:"geometry"`
	Properties properties `json:"properties"`
}

type geometry struct {
	Coordinates []float64 `json:"coordinates"`
}

type properties struct {
	ID       int64            `json:"id"`
	Status   string           `json:"status"`
	Comments []featureComment `json:"comments"`
}

// user_url and html are also present upstream and deliberately ignored.
type featureComment struct {
	Date   string `json:"date"`
	Action string `json:"action"`
	UID    *int64 `json:"uid"`
	User   string `json:"user"`
	Text   string `json:"text"`
}

// Fetch returns the notes changed inside [from, to], newest first, plus
// the raw feature count of the page. Both open and closed notes are
// requested; limit is passed through to the API untouched.
func (c *Client) Fetch(ctx context.Context, from, to time.Time, limit int) ([]notes.Note, int, error) {
	requestURL := c.buildURL(from, to, limit)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("osmapi: build request: %w", err)
	}

	c.logger.Debug("fetching change window",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("limit", limit))

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, fmt.Errorf("osmapi: request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("osmapi: unexpected status %d", response.StatusCode)
	}

	var collection featureCollection
	if err := json.NewDecoder(response.Body).Decode(&collection); err != nil {
		return nil, 0, fmt.Errorf("osmapi: decode response: %w", err)
	}

	fetched := make([]notes.Note, 0, len(collection.Features))
	for _, item := range collection.Features {
		note, err := convert(item)
		if err != nil {
			return nil, 0, fmt.Errorf("osmapi: feature %d: %w", item.Properties.ID, err)
		}
		fetched = append(fetched, note)
	}
	return fetched, len(collection.Features), nil
}

func (c *Client) buildURL(from, to time.Time, limit int) string {
	query := url.Values{}
	query.Set("sort", "updated_at")
	// Include both open and closed notes.
	query.Set("closed", "-1")
	// The from parameter must always be set, otherwise upstream ignores to.
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(limit))
	return c.baseURL + searchPath + "?" + query.Encode()
}

func convert(item feature) (notes.Note, error) {
	status, err := notes.ParseStatus(item.Properties.Status)
	if err != nil {
		return notes.Note{}, err
	}

	var longitude, latitude float64
	if len(item.Geometry.Coordinates) >= 2 {
		longitude = item.Geometry.Coordinates[0]
		latitude = item.Geometry.Coordinates[1]
	}

	comments := make([]notes.Comment, 0, len(item.Properties.Comments))
	for _, raw := range item.Properties.Comments {
		date, err := notes.ParseDate(raw.Date)
		if err != nil {
			return notes.Note{}, err
		}
		comment, err := notes.NewComment(date, notes.Action(raw.Action), raw.UID, raw.User, strings.TrimSpace(raw.Text))
		if err != nil {
			return notes.Note{}, err
		}
		comments = append(comments, comment)
	}

	return notes.NewNote(item.Properties.ID, longitude, latitude, status, comments)
}
