package client

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

	"github.com/LeventeLantos/promo-dispatch/internal/model"
	"github.com/LeventeLantos/promo-dispatch/internal/timezone"
)

const tracklyName = "trackly"

type TracklyConfig struct {
	BaseURL       string
	APIKey        string
	PhoneNumberID string
	PageSize      int
	Timeout       time.Duration
}

// TracklyClient talks to the Trackly JSON API. Numbers go out in E.164.
type TracklyClient struct {
	cfg     TracklyConfig
	client  *http.Client
	stream  *http.Client
	limiter Limiter
}

func NewTracklyClient(cfg TracklyConfig, limiter Limiter) *TracklyClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://tracklysms.com/api/v1"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TracklyClient{
		cfg:     cfg,
		client:  newHTTPClient(cfg.Timeout),
		stream:  newStreamClient(cfg.Timeout),
		limiter: limiter,
	}
}

func (c *TracklyClient) Name() string { return tracklyName }

type sendRequest struct {
	To           string `json:"to_msisdn"`
	Body         string `json:"body"`
	FromNumberID string `json:"from_phone_number_id"`
}

type sendResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type optOutRequest struct {
	To     string `json:"to_msisdn"`
	Reason string `json:"reason"`
}

type tracklyContact struct {
	PhoneNumber string  `json:"phone_number"`
	Status      string  `json:"status"`
	OptedOut    *string `json:"opted_out"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Email       string  `json:"email"`
	Keyword     string  `json:"keyword"`
}

func (tc tracklyContact) optedIn() bool {
	return tc.Status == "subscribed" && tc.OptedOut == nil
}

func (c *TracklyClient) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	return c.doWith(ctx, c.client, method, path, payload)
}

func (c *TracklyClient) doWith(ctx context.Context, hc *http.Client, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return hc.Do(req)
}

func (c *TracklyClient) Send(ctx context.Context, phone, message string) (string, error) {
	var id string
	err := call(ctx, c.limiter, tracklyName, "send", func() error {
		resp, err := c.do(ctx, http.MethodPost, "/messages", sendRequest{
			To:           timezone.E164(phone),
			Body:         message,
			FromNumberID: c.cfg.PhoneNumberID,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if !ok(resp) {
			return statusError(tracklyName, resp)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		var sr sendResponse
		if err := json.Unmarshal(body, &sr); err != nil {
			return fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
		}
		if sr.Error != "" {
			return fmt.Errorf("trackly api error: %s", sr.Error)
		}
		id = sr.ID
		return nil
	})
	return id, err
}

// CheckOptIn treats an unknown contact (404) as not opted in.
func (c *TracklyClient) CheckOptIn(ctx context.Context, phone string) (bool, error) {
	var in bool
	err := call(ctx, c.limiter, tracklyName, "contact", func() error {
		resp, err := c.do(ctx, http.MethodGet, "/contacts/"+url.PathEscape(timezone.E164(phone)), nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if !ok(resp) {
			return statusError(tracklyName, resp)
		}

		var tc tracklyContact
		if err := json.NewDecoder(resp.Body).Decode(&tc); err != nil {
			return fmt.Errorf("failed to decode json: %w", err)
		}
		in = tc.optedIn()
		return nil
	})
	return in, err
}

func (c *TracklyClient) OptOut(ctx context.Context, phone, reason string) (bool, error) {
	if reason == "" {
		reason = "USER_REQUEST"
	}
	err := call(ctx, c.limiter, tracklyName, "optout", func() error {
		resp, err := c.do(ctx, http.MethodPost, "/opt-outs", optOutRequest{
			To:     timezone.E164(phone),
			Reason: reason,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if !ok(resp) {
			return statusError(tracklyName, resp)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
	return err == nil, err
}

// FetchOptedIn pages through the account's contacts and streams the
// subscribed ones. Trackly has no list ids; listID is ignored.
func (c *TracklyClient) FetchOptedIn(ctx context.Context, listID string, fn ContactFunc) (FetchStats, error) {
	var stats FetchStats
	for offset := 0; ; offset += c.cfg.PageSize {
		var n int
		err := call(ctx, c.limiter, tracklyName, "contacts", func() error {
			var err error
			n, err = c.fetchPage(ctx, offset, &stats, fn)
			return err
		})
		if err != nil {
			return stats, err
		}
		if n < c.cfg.PageSize {
			return stats, nil
		}
	}
}

// fetchPage decodes {"contacts":[...]} element by element and returns the
// number of array elements seen.
func (c *TracklyClient) fetchPage(ctx context.Context, offset int, stats *FetchStats, fn ContactFunc) (int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))

	resp, err := c.doWith(ctx, c.stream, http.MethodGet, "/contacts?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if !ok(resp) {
		return 0, statusError(tracklyName, resp)
	}

	dec := json.NewDecoder(resp.Body)
	if err := seekArray(dec, "contacts"); err != nil {
		if errors.Is(err, errFieldMissing) {
			return 0, nil
		}
		return 0, fmt.Errorf("trackly contacts: %w", err)
	}

	n := 0
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return n, fmt.Errorf("trackly contacts: %w", err)
		}
		n++
		stats.Records++

		var tc tracklyContact
		if err := json.Unmarshal(raw, &tc); err != nil || len(timezone.Digits(tc.PhoneNumber)) < 10 {
			stats.Skipped++
			continue
		}
		if !tc.optedIn() {
			continue
		}
		if err := fn(model.Contact{
			Phone:     timezone.Normalize(tc.PhoneNumber),
			FirstName: tc.FirstName,
			LastName:  tc.LastName,
			Email:     tc.Email,
			Keyword:   tc.Keyword,
		}); err != nil {
			return n, err
		}
	}
	return n, nil
}

var errFieldMissing = errors.New("field missing")

// seekArray advances dec to just inside the array stored under key of the
// top-level object.
func seekArray(dec *json.Decoder, key string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, isDelim := tok.(json.Delim); !isDelim || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		if name != key {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
			continue
		}
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		if tok == nil {
			return errFieldMissing
		}
		if d, isDelim := tok.(json.Delim); !isDelim || d != '[' {
			return fmt.Errorf("expected array under %q, got %v", key, tok)
		}
		return nil
	}
	return errFieldMissing
}
