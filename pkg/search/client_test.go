package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/config"
	errs "harvester/pkg/errors"
	"harvester/pkg/fetch"
	"harvester/pkg/logger"
	"harvester/pkg/ratelimit"
)

type fakeQuota struct {
	remaining int
	acquired  int
}

func (q *fakeQuota) Acquire() error {
	if q.remaining <= 0 {
		return errs.QuotaExceeded(q.acquired, q.acquired)
	}
	q.remaining--
	q.acquired++
	return nil
}

func testConfig(endpoint string) config.SearchConfig {
	cfg := config.DefaultConfig().Search
	cfg.Endpoint = endpoint
	cfg.ClientID = "id"
	cfg.ClientSecret = "secret"
	return cfg
}

func newTestClient(endpoint string, quota Quota, cfg config.SearchConfig) *Client {
	fetcher := fetch.NewClient(ratelimit.NewSpacing(0, 0), fetch.Options{MaxAttempts: 1}, logger.NewNopLogger())
	return NewClient(fetcher, quota, cfg, logger.NewNopLogger())
}

func TestSearchSendsQueryAndCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id", r.Header.Get("X-Naver-Client-Id"))
		assert.Equal(t, "secret", r.Header.Get("X-Naver-Client-Secret"))
		assert.Equal(t, "타이레놀 의약품", r.URL.Query().Get("query"))
		assert.Equal(t, "100", r.URL.Query().Get("display"))
		assert.Equal(t, "1", r.URL.Query().Get("start"))

		json.NewEncoder(w).Encode(Response{
			Total:   1,
			Start:   1,
			Display: 1,
			Items: []Item{{
				Title:       "<b>타이레놀</b>정 &amp; 시럽",
				Link:        "https://terms.naver.com/entry.naver?docId=1&cid=51000",
				Description: "해열 <b>성분</b>",
			}},
		})
	}))
	defer server.Close()

	quota := &fakeQuota{remaining: 5}
	c := newTestClient(server.URL, quota, testConfig(server.URL))

	page, err := c.Search(context.Background(), "타이레놀", 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "타이레놀정 & 시럽", page.Items[0].Title)
	assert.Equal(t, "해열 성분", page.Items[0].Description)
	assert.Equal(t, 1, quota.acquired)
}

func TestSearchRefusedByQuotaSendsNothing(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	c := newTestClient(server.URL, &fakeQuota{remaining: 0}, testConfig(server.URL))

	_, err := c.Search(context.Background(), "x", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrQuotaExceeded))
	assert.Equal(t, int32(0), hits.Load())

	items, calls, err := c.SearchAll(context.Background(), "x")
	assert.True(t, errors.Is(err, errs.ErrQuotaExceeded))
	assert.Empty(t, items)
	assert.Equal(t, 0, calls)
}

func TestSearchBadRequestIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestClient(server.URL, &fakeQuota{remaining: 1}, testConfig(server.URL))
	page, err := c.Search(context.Background(), "???", 1)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestSearchServerErrorIsClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(server.URL, &fakeQuota{remaining: 1}, testConfig(server.URL))
	_, err := c.Search(context.Background(), "aspirin", 1)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeExhausted, errs.TypeOf(err))
	assert.Contains(t, err.Error(), "aspirin")
}

func TestSearchMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	c := newTestClient(server.URL, &fakeQuota{remaining: 1}, testConfig(server.URL))
	_, err := c.Search(context.Background(), "x", 1)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeInvalid, errs.TypeOf(err))
}

func TestSearchAllPaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		count := 2
		if start > 2 {
			count = 1
		}
		resp := Response{Total: 3, Start: start, Display: count}
		for i := 0; i < count; i++ {
			resp.Items = append(resp.Items, Item{Title: "item " + strconv.Itoa(start+i)})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Display = 2
	cfg.MaxPages = 5
	quota := &fakeQuota{remaining: 10}
	c := newTestClient(server.URL, quota, cfg)

	items, calls, err := c.SearchAll(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, quota.acquired)
}

func TestFilter(t *testing.T) {
	cfg := config.DefaultConfig().Search
	items := []Item{
		{Title: "a", Category: "의약품사전"},
		{Title: "b", Description: "주요 성분은", Link: "https://terms.naver.com/entry.naver?docId=2&cid=51000"},
		{Title: "c", Description: "주요 성분은", Link: "https://terms.naver.com/entry.naver?docId=3&cid=40942"},
		{Title: "d", Description: "서울의 지리", Link: "https://terms.naver.com/entry.naver?docId=4&cid=51000"},
	}

	kept := Filter(items, cfg)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].Title)
	assert.Equal(t, "b", kept[1].Title)
}

func TestItemHints(t *testing.T) {
	hints := Item{Title: "t", Link: "l", Description: "d", Category: "c"}.Hints()
	assert.Equal(t, "t", hints["title"])
	assert.Equal(t, "l", hints["link"])
}
