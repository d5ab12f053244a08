package gata

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "gata/internal/errors"
	"gata/internal/httpclient"
	"gata/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Endpoints{Earn: srv.URL, Agent: srv.URL}, WithLogger(logging.Nop()))
}

func TestFetchTaskSendsTaskHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/task", r.URL.Path)
		assert.Equal(t, "Bearer task-tok", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultEndpointHeader, r.Header.Get("X-Gata-Endpoint"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `{"id":"t-1","text":"A cat sits on a mat.","link":"https://img/1.png"}`)
	})

	task, err := client.FetchTask(t.Context(), "task-tok")
	require.NoError(t, err)
	assert.False(t, task.Empty())
	assert.Equal(t, FlexString("t-1"), task.ID)
	assert.Equal(t, "A cat sits on a mat.", task.Text)
}

func TestFetchTaskEmptyPayloads(t *testing.T) {
	for _, body := range []string{"", "{}", "null", `{"id":""}`} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		})
		task, err := client.FetchTask(t.Context(), "tok")
		require.NoError(t, err, "body %q", body)
		assert.True(t, task.Empty(), "body %q", body)
	}
}

func TestFetchTaskNumericID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":42,"text":"x"}`)
	})
	task, err := client.FetchTask(t.Context(), "tok")
	require.NoError(t, err)
	assert.Equal(t, FlexString("42"), task.ID)
}

func TestFetchTaskStatusErrorIsFetchError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	})
	_, err := client.FetchTask(t.Context(), "tok")
	require.Error(t, err)
	var fetchErr *agenterrors.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "task", fetchErr.Resource)
	assert.True(t, agenterrors.IsUnauthorized(err))
}

func TestSubmitScoreSendsStringScore(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "t-9", body["id"])
		assert.Equal(t, "0.35", body["score"])
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, client.SubmitScore(t.Context(), "tok", "t-9", 0.35))
}

func TestSubmitScoreFailureIsSubmitError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := client.SubmitScore(t.Context(), "tok", "t-9", 0.1)
	require.Error(t, err)
	var submitErr *agenterrors.SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, "t-9", submitErr.TaskID)
	assert.True(t, agenterrors.IsTransient(err))
}

func TestFetchRewardsParsesLenientNumbers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/task_rewards", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		_, _ = io.WriteString(w, `{"total":"1500","completed_count":"n/a","rewards":[{"date":"2026-10-18","total_points":12.9}]}`)
	})
	page, err := client.FetchRewards(t.Context(), "tok", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, FlexInt(1500), page.Total)
	assert.Equal(t, FlexInt(0), page.CompletedCount)
	require.Len(t, page.Rewards, 1)
	assert.Equal(t, FlexInt(12), page.Rewards[0].TotalPoints)
}

func TestHandshakeEndpoints(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/api/signature_nonce":
			assert.Equal(t, "0xabc", body["address"])
			_, _ = io.WriteString(w, `{"auth_nonce":"n-1"}`)
		case "/api/authorize":
			assert.Equal(t, "0xabc", body["public_address"])
			assert.Equal(t, "0xsig", body["signature_code"])
			assert.Equal(t, "", body["invite_code"])
			_, _ = io.WriteString(w, `{"token":"session"}`)
		case "/api/grant":
			assert.Equal(t, "Bearer session", r.Header.Get("Authorization"))
			assert.EqualValues(t, 1, body["type"])
			_, _ = io.WriteString(w, `{"token":"task"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	nonce, err := client.SignatureNonce(t.Context(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "n-1", nonce)

	token, err := client.Authorize(t.Context(), "0xabc", "0xsig", "")
	require.NoError(t, err)
	assert.Equal(t, "session", token)

	grant, err := client.Grant(t.Context(), "session", GrantTask)
	require.NoError(t, err)
	assert.Equal(t, "task", grant)
}

func TestFlexIntTruncatesNumbersAndParsesStrings(t *testing.T) {
	cases := map[string]FlexInt{
		`1.5e3`:   1500,
		`-2.7`:    -2,
		`3.9`:     3,
		`42`:      42,
		`"12abc"`: 12,
		`"1.5e3"`: 1,
		`null`:    0,
		`true`:    0,
		`{}`:      0,
	}
	for in, want := range cases {
		var got FlexInt
		require.NoError(t, json.Unmarshal([]byte(in), &got), "input %s", in)
		assert.Equal(t, want, got, "input %s", in)
	}
}

func TestAgentFailuresDoNotBlockEarnHost(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(agent.Close)
	earn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/grant", r.URL.Path)
		_, _ = io.WriteString(w, `{"token":"task"}`)
	}))
	t.Cleanup(earn.Close)

	breakerCfg := agenterrors.DefaultCircuitBreakerConfig()
	client := NewClient(
		Endpoints{Earn: earn.URL, Agent: agent.URL},
		WithHTTPClient(httpclient.NewWithCircuitBreakerConfig(time.Second, logging.Nop(), breakerCfg)),
		WithLogger(logging.Nop()),
	)

	for i := 0; i < breakerCfg.FailureThreshold; i++ {
		_, err := client.FetchTask(t.Context(), "tok")
		require.Error(t, err)
	}
	_, err := client.FetchTask(t.Context(), "tok")
	require.Error(t, err)
	assert.True(t, agenterrors.IsDegraded(err))

	grant, err := client.Grant(t.Context(), "session", GrantTask)
	require.NoError(t, err)
	assert.Equal(t, "task", grant)
}

func TestLeadingInt(t *testing.T) {
	cases := map[string]int64{"42": 42, " 7 ": 7, "12abc": 12, "-3": -3, "abc": 0, "": 0, "3.9": 3, "null": 0}
	for in, want := range cases {
		assert.Equal(t, want, leadingInt(in), "input %q", in)
	}
}
