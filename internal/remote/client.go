// Package remote is the durable record and schedule store facade,
// backed by the campus records service over HTTP JSON. Transport
// failures surface as attendance.ErrStoreUnavailable so callers can
// fall back to the local cache.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"rollcall/attendance-server/internal/attendance"
	"rollcall/attendance-server/internal/model"
)

// Client talks to the records service for one deployment.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the records service at baseURL. A zero
// timeout defaults to ten seconds.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// QueryRecords fetches the full attendance history for one user.
func (c *Client) QueryRecords(ctx context.Context, userKey string) ([]model.AttendanceRecord, error) {
	endpoint := fmt.Sprintf("%s/api/users/%s/records", c.baseURL, url.PathEscape(userKey))

	var body struct {
		Records []model.AttendanceRecord `json:"records"`
	}
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	return body.Records, nil
}

// QueryScheduleForWeekday fetches the recurring schedule entries that
// meet on the given weekday.
func (c *Client) QueryScheduleForWeekday(ctx context.Context, day time.Weekday) ([]model.ScheduleEntry, error) {
	endpoint := fmt.Sprintf("%s/api/schedule?weekday=%s", c.baseURL, url.QueryEscape(day.String()))

	var body struct {
		Entries []model.ScheduleEntry `json:"entries"`
	}
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

// AppendRecord writes one attendance event. Appends are keyed by
// (course, timestamp) on the service side, so a retried write cannot
// duplicate a record.
func (c *Client) AppendRecord(ctx context.Context, userKey string, rec model.AttendanceRecord) error {
	endpoint := fmt.Sprintf("%s/api/users/%s/records", c.baseURL, url.PathEscape(userKey))

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("append record: %w: %w", attendance.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("append record: %w: status %d", attendance.ErrStoreUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("append record: status %d", resp.StatusCode)
	}
	return nil
}

// DeleteRecord removes one record by exact (course, timestamp) match.
// A 404 counts as success so retried deletes stay safe.
func (c *Client) DeleteRecord(ctx context.Context, userKey, courseID string, timestamp time.Time) error {
	endpoint := fmt.Sprintf("%s/api/users/%s/records?course_id=%s&timestamp=%s",
		c.baseURL,
		url.PathEscape(userKey),
		url.QueryEscape(courseID),
		url.QueryEscape(timestamp.UTC().Format(time.RFC3339Nano)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete record: %w: %w", attendance.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("delete record: %w: status %d", attendance.ErrStoreUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("delete record: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w: %w", endpoint, attendance.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("fetch %s: %w: status %d", endpoint, attendance.ErrStoreUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
