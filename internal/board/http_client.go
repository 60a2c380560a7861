package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/autopilot/internal/orchestrerr"
	"go.uber.org/zap"
)

// No third-party REST or GraphQL client library is wired here: the
// retrieved corpus has no such dependency anywhere, and the teacher's own
// internal/eventbridge package builds its HTTP surface directly on
// net/http. HTTPClient follows that same idiom (see DESIGN.md).

// HTTPClient talks to a board exposed as a small JSON REST API. The field
// names used for "Status" and "Assigned Instance" are never hardcoded; they
// are supplied by the caller (sourced from config.BoardConfig) so the same
// client works against boards with differently named custom fields.
type HTTPClient struct {
	baseURL               string
	statusField           string
	assignedInstanceField string
	token                 string
	httpClient            *http.Client
	logger                *zap.Logger
	now                   func() time.Time
}

// NewHTTPClient constructs an HTTPClient. token is sent as a bearer
// Authorization header and is never logged.
func NewHTTPClient(baseURL, statusField, assignedInstanceField, token string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:               strings.TrimRight(baseURL, "/"),
		statusField:           statusField,
		assignedInstanceField: assignedInstanceField,
		token:                 token,
		httpClient:            &http.Client{Timeout: 30 * time.Second},
		logger:                logger,
		now:                   time.Now,
	}
}

type itemDTO struct {
	ID        string            `json:"id"`
	Issue     int               `json:"issue_number"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Fields    map[string]string `json:"fields"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (c *HTTPClient) toItem(dto itemDTO) Item {
	fields := make(map[string]string, len(dto.Fields))
	for k, v := range dto.Fields {
		fields[k] = v
	}
	status := fields[c.statusField]
	assigned := fields[c.assignedInstanceField]
	delete(fields, c.statusField)
	delete(fields, c.assignedInstanceField)
	return Item{
		BoardItemID:      dto.ID,
		IssueNumber:      dto.Issue,
		Title:            dto.Title,
		Body:             dto.Body,
		Status:           status,
		AssignedInstance: assigned,
		FieldMap:         fields,
		UpdatedAt:        dto.UpdatedAt,
	}
}

type listItemsResponse struct {
	Items      []itemDTO `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// ListItems pages through board items, at most 100 per call.
func (c *HTTPClient) ListItems(ctx context.Context, filter ListFilter) (Page, error) {
	query := "page_size=100"
	if filter.Cursor != "" {
		query += "&cursor=" + filter.Cursor
	}
	for _, s := range filter.Status {
		query += "&status=" + s
	}
	var resp listItemsResponse
	if err := c.do(ctx, http.MethodGet, "/items?"+query, nil, &resp); err != nil {
		return Page{}, err
	}
	items := make([]Item, 0, len(resp.Items))
	for _, dto := range resp.Items {
		items = append(items, c.toItem(dto))
	}
	return Page{Items: items, NextCursor: resp.NextCursor}, nil
}

type fieldValueResponse struct {
	Value string `json:"value"`
}

// GetStatus reads the board's current Status field value.
func (c *HTTPClient) GetStatus(ctx context.Context, boardItemID string) (string, error) {
	return c.getField(ctx, boardItemID, c.statusField)
}

// SetStatus writes the board's Status field. Callers must have already
// confirmed the target status has a StatusMapping entry; HTTPClient writes
// whatever string it is given.
func (c *HTTPClient) SetStatus(ctx context.Context, boardItemID, status string) error {
	return c.setField(ctx, boardItemID, c.statusField, status)
}

// GetAssignedInstance reads the board's Assigned Instance field.
func (c *HTTPClient) GetAssignedInstance(ctx context.Context, boardItemID string) (string, error) {
	return c.getField(ctx, boardItemID, c.assignedInstanceField)
}

// SetAssignedInstance writes the board's Assigned Instance field. Passing
// "" clears it.
func (c *HTTPClient) SetAssignedInstance(ctx context.Context, boardItemID, instanceID string) error {
	return c.setField(ctx, boardItemID, c.assignedInstanceField, instanceID)
}

func (c *HTTPClient) getField(ctx context.Context, boardItemID, field string) (string, error) {
	var resp fieldValueResponse
	path := fmt.Sprintf("/items/%s/fields/%s", boardItemID, field)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Value, nil
}

func (c *HTTPClient) setField(ctx context.Context, boardItemID, field, value string) error {
	path := fmt.Sprintf("/items/%s/fields/%s", boardItemID, field)
	body := fieldValueResponse{Value: value}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

type issueLookupResponse struct {
	BoardItemID string `json:"board_item_id"`
}

// GetItemForIssue resolves the board item handle for an external issue
// number. A not-found issue returns ("", nil); the assignment simply never
// gets a BoardItemID and ensureBoardItemId logs a warning.
func (c *HTTPClient) GetItemForIssue(ctx context.Context, issueNumber int) (string, error) {
	path := "/issues/" + strconv.Itoa(issueNumber) + "/item"
	var resp issueLookupResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return resp.BoardItemID, nil
}

type notFoundError struct{ status int }

func (e *notFoundError) Error() string { return fmt.Sprintf("not found (status %d)", e.status) }

func isNotFound(err error) bool {
	var nf *notFoundError
	for e := err; e != nil; {
		if n, ok := e.(*notFoundError); ok {
			nf = n
			break
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = unwrapper.Unwrap()
	}
	return nf != nil
}

// do performs one HTTP call and translates transport failures, 5xx
// responses and 401 (expired or missing credentials) into
// orchestrerr.BoardUnavailable. A 404 is surfaced as *notFoundError instead,
// since it is an ordinary "doesn't exist yet" outcome rather than board
// unavailability. Any other 4xx is an orchestrerr.InvariantViolation.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return orchestrerr.Wrap(orchestrerr.BoardUnavailable, "encode request body", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return orchestrerr.Wrap(orchestrerr.BoardUnavailable, "build request", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("board call failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		}
		return orchestrerr.Wrap(orchestrerr.BoardUnavailable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &notFoundError{status: resp.StatusCode}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized {
		return orchestrerr.New(orchestrerr.BoardUnavailable, fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return orchestrerr.New(orchestrerr.InvariantViolation, fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return orchestrerr.Wrap(orchestrerr.BoardUnavailable, "decode response body", err)
	}
	return nil
}
