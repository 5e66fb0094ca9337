package client

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const limeName = "lime"

type LimeConfig struct {
	BaseURL string
	User    string
	APIID   string
	Timeout time.Duration
}

// LimeClient talks to the Lime Cellular XML API.
type LimeClient struct {
	cfg     LimeConfig
	client  *http.Client
	stream  *http.Client
	limiter Limiter
}

func NewLimeClient(cfg LimeConfig, limiter Limiter) *LimeClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://mcpn.us"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &LimeClient{
		cfg:     cfg,
		client:  newHTTPClient(cfg.Timeout),
		stream:  newStreamClient(cfg.Timeout),
		limiter: limiter,
	}
}

func (c *LimeClient) Name() string { return limeName }

func (c *LimeClient) params(ev string) url.Values {
	q := url.Values{}
	if ev != "" {
		q.Set("ev", ev)
	}
	q.Set("user", c.cfg.User)
	q.Set("api_id", c.cfg.APIID)
	return q
}

func (c *LimeClient) get(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	return c.getWith(ctx, c.client, path, q)
}

func (c *LimeClient) getWith(ctx context.Context, hc *http.Client, path string, q url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return hc.Do(req)
}

// Send delivers one message through the one-way SMS endpoint. Lime returns
// no message id.
func (c *LimeClient) Send(ctx context.Context, phone, body string) (string, error) {
	q := c.params("")
	q.Set("mobile", phone)
	q.Set("message", body)

	err := call(ctx, c.limiter, limeName, "send", func() error {
		resp, err := c.get(ctx, "/sendsmsapi", q)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if !ok(resp) {
			return statusError(limeName, resp)
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return err
		}
		if msg, found := limeErrorText(b); found {
			return fmt.Errorf("lime api error: %s", msg)
		}
		return nil
	})
	return "", err
}

// CheckOptIn reports whether phone is on at least one opt-in list.
func (c *LimeClient) CheckOptIn(ctx context.Context, phone string) (bool, error) {
	q := c.params("optinStatus")
	q.Set("mobile", phone)
	q.Set("type", "optin")

	var in bool
	err := call(ctx, c.limiter, limeName, "optin_status", func() error {
		resp, err := c.get(ctx, "/limeApi", q)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if !ok(resp) {
			return statusError(limeName, resp)
		}
		in, err = decodeOptInLists(resp.Body)
		return err
	})
	return in, err
}

// OptOut removes phone from the account's opt-in lists. Lime has no reason
// field, so reason is ignored.
func (c *LimeClient) OptOut(ctx context.Context, phone, reason string) (bool, error) {
	q := c.params("optout")
	q.Set("mobile", phone)

	err := call(ctx, c.limiter, limeName, "optout", func() error {
		resp, err := c.get(ctx, "/limeApi", q)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if !ok(resp) {
			return statusError(limeName, resp)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
	return err == nil, err
}

// FetchOptedIn streams the numbers opted into listID, decoding the XML
// document one record at a time.
func (c *LimeClient) FetchOptedIn(ctx context.Context, listID string, fn ContactFunc) (FetchStats, error) {
	q := c.params("optedInNumbers")
	q.Set("optInListId", listID)

	var stats FetchStats
	err := call(ctx, c.limiter, limeName, "opted_in_numbers", func() error {
		resp, err := c.getWith(ctx, c.stream, "/limeApi", q)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if !ok(resp) {
			return statusError(limeName, resp)
		}
		stats, err = newOptedInDecoder(resp.Body).decode(fn)
		return err
	})
	return stats, err
}

// decodeOptInLists reads <lists type="optin"><list/>...</lists>; any <list>
// child means the number is opted in.
func decodeOptInLists(r io.Reader) (bool, error) {
	dec := xml.NewDecoder(r)
	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if !sawRoot {
				return false, errors.New("lime optinStatus: missing <lists> element")
			}
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("lime optinStatus: %w", err)
		}

		se, isStart := tok.(xml.StartElement)
		if !isStart {
			continue
		}
		switch se.Name.Local {
		case "lists":
			sawRoot = true
		case "list":
			if sawRoot {
				return true, nil
			}
		case "error":
			var msg string
			_ = dec.DecodeElement(&msg, &se)
			return false, fmt.Errorf("lime api error: %s", strings.TrimSpace(msg))
		}
	}
}

func limeErrorText(body []byte) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		if se, isStart := tok.(xml.StartElement); isStart && strings.EqualFold(se.Name.Local, "error") {
			var msg string
			_ = dec.DecodeElement(&msg, &se)
			msg = strings.TrimSpace(msg)
			if msg == "" {
				msg = "unknown error"
			}
			return msg, true
		}
	}
}
