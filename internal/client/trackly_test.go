package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

func newTracklyTestClient(t *testing.T, pageSize int, h http.HandlerFunc) (*TracklyClient, *countingLimiter) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	l := &countingLimiter{}
	c := NewTracklyClient(TracklyConfig{
		BaseURL:       srv.URL,
		APIKey:        "key-1",
		PhoneNumberID: "pn-9",
		PageSize:      pageSize,
	}, l)
	return c, l
}

func TestTrackly_Send_Success(t *testing.T) {
	t.Parallel()

	var (
		gotMethod, gotKey, gotCT string
		gotReq                   sendRequest
	)
	c, l := newTracklyTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotKey = r.Header.Get("X-Api-Key")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"msg-123"}`))
	})

	id, err := c.Send(context.Background(), "2135551234", "hello")
	require.NoError(t, err)

	assert.Equal(t, "msg-123", id)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, sendRequest{To: "+12135551234", Body: "hello", FromNumberID: "pn-9"}, gotReq)
	assert.EqualValues(t, 1, l.calls.Load())
}

func TestTrackly_Send_Non2xx_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	c, _ := newTracklyTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	})

	_, err := c.Send(context.Background(), "2135551234", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 429")
	assert.Contains(t, err.Error(), `body="slow down"`)
}

func TestTrackly_Send_InvalidJSON(t *testing.T) {
	t.Parallel()

	c, _ := newTracklyTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("THIS IS NOT JSON"))
	})

	_, err := c.Send(context.Background(), "2135551234", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode json")
}

func TestTrackly_Send_TruncatedBody(t *testing.T) {
	t.Parallel()

	c, _ := newTracklyTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "64")
		_, _ = w.Write([]byte(`{"id":"msg-`))
	})

	_, err := c.Send(context.Background(), "2135551234", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read response body")
	assert.NotContains(t, err.Error(), "failed to decode json")
}

func TestTrackly_FetchOptedIn_SlowConsumerOutlivesRequestTimeout(t *testing.T) {
	t.Parallel()

	const n = 400
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"contacts":[`))
		for i := 0; i < n; i++ {
			if i > 0 {
				_, _ = w.Write([]byte(","))
			}
			_, _ = fmt.Fprintf(w, `{"phone_number":"+1212%07d","status":"subscribed"}`, i)
		}
		_, _ = w.Write([]byte(`]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewTracklyClient(TracklyConfig{BaseURL: srv.URL, PageSize: 1000, Timeout: 200 * time.Millisecond}, &countingLimiter{})

	count := 0
	_, err := c.FetchOptedIn(context.Background(), "", func(model.Contact) error {
		count++
		if count%50 == 0 {
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestTrackly_Send_ContextCanceled(t *testing.T) {
	t.Parallel()

	c, _ := newTracklyTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, "2135551234", "hi")
	require.Error(t, err)
}

func TestTrackly_CheckOptIn(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{"subscribed", http.StatusOK, `{"status":"subscribed","opted_out":null}`, true, false},
		{"opted out", http.StatusOK, `{"status":"subscribed","opted_out":"2026-01-02T00:00:00Z"}`, false, false},
		{"unsubscribed", http.StatusOK, `{"status":"unsubscribed"}`, false, false},
		{"not found", http.StatusNotFound, `{"error":"not found"}`, false, false},
		{"server error", http.StatusInternalServerError, `boom`, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newTracklyTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/contacts/+12135551234", r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			got, err := c.CheckOptIn(context.Background(), "2135551234")
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTrackly_OptOut(t *testing.T) {
	t.Parallel()

	var got optOutRequest
	c, _ := newTracklyTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/opt-outs", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	})

	ok, err := c.OptOut(context.Background(), "12135551234", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, optOutRequest{To: "+12135551234", Reason: "USER_REQUEST"}, got)
}

func TestTrackly_FetchOptedIn_PagesAndFilters(t *testing.T) {
	t.Parallel()

	const total = 5
	c, l := newTracklyTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		var items []string
		for i := offset; i < offset+limit && i < total; i++ {
			switch i {
			case 1:
				items = append(items, `{"phone_number":"+13125550001","status":"unsubscribed"}`)
			case 3:
				items = append(items, `{"phone_number":12,"status":"subscribed"}`)
			default:
				items = append(items, fmt.Sprintf(
					`{"phone_number":"+1212555000%d","status":"subscribed","opted_out":null,"first_name":"F%d","keyword":"stock"}`, i, i))
			}
		}
		_, _ = fmt.Fprintf(w, `{"total":%d,"contacts":[%s]}`, total, strings.Join(items, ","))
	})

	var got []model.Contact
	stats, err := c.FetchOptedIn(context.Background(), "", func(ct model.Contact) error {
		got = append(got, ct)
		return nil
	})
	require.NoError(t, err)

	assert.EqualValues(t, 3, l.calls.Load(), "pages of 2, 2 and 1")
	assert.Equal(t, FetchStats{Records: 5, Skipped: 1}, stats)
	require.Len(t, got, 3)
	assert.Equal(t, "2125550000", got[0].Phone)
	assert.Equal(t, "F0", got[0].FirstName)
	assert.Equal(t, "stock", got[0].Keyword)
}

func TestTrackly_FetchOptedIn_MissingContacts(t *testing.T) {
	t.Parallel()

	c, _ := newTracklyTestClient(t, 10, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"contacts":null}`))
	})

	stats, err := c.FetchOptedIn(context.Background(), "", func(model.Contact) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, stats.Records)
}

func TestTrackly_FetchOptedIn_BrokenStream(t *testing.T) {
	t.Parallel()

	c, _ := newTracklyTestClient(t, 10, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"contacts":[{"phone_number":"+12125550000","status":"subscribed"},{"phone`))
	})

	_, err := c.FetchOptedIn(context.Background(), "", func(model.Contact) error { return nil })
	require.Error(t, err)
}
