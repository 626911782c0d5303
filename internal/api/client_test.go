package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "tok", WithRateLimit(0, 0))
}

func TestClient_ListMessagesBuildsQuery(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"id":"m1","account_id":2,"from_name":null,"from_email":"a@x.com","subject":"Hi",
			 "date":"2024-03-01T10:20:30","snippet":null,"is_read":false,"is_starred":false,
			 "has_attachments":true,"classification_label":null},
			{"id":"m2","account_id":2,"from_name":"Bob","from_email":"b@x.com","subject":"Re",
			 "date":"2024-03-01T09:00:00+00:00","is_read":true,"is_starred":false,
			 "has_attachments":false,"classification_label":"SPAM"}
		]`)
	})

	msgs, err := c.ListMessages(context.Background(), MessageFilter{
		AccountID:           2,
		Folder:              "INBOX",
		ClassificationLabel: UnclassifiedLabel,
		Limit:               500,
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/messages/", got.URL.Path)
	assert.Equal(t, "2", got.URL.Query().Get("account_id"))
	assert.Equal(t, "INBOX", got.URL.Query().Get("classification_label"))
	assert.Equal(t, "200", got.URL.Query().Get("limit"))
	assert.False(t, got.URL.Query().Has("offset"))
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))

	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].Classified())
	assert.Equal(t, "a@x.com", msgs[0].Sender())
	assert.Equal(t, 2024, msgs[0].Date.Year())
	assert.True(t, msgs[1].Classified())
	assert.Equal(t, "Bob", msgs[1].Sender())
}

func TestClient_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"message":"Classification successful","classification":{"final_label":"Servicios","decided_by":"rule_whitelist"}}`)
	})

	resp, err := c.ClassifyMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "Servicios", resp.Classification.FinalLabel)
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	WithMaxRetries(1)(c)

	_, err := c.ListAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (1) exceeded")
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"detail":"Could not validate credentials"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsAuthError(err))
				assert.Equal(t, 401, StatusCode(err))
				assert.Contains(t, err.Error(), "Could not validate credentials")
			},
		},
		{
			name:   "string detail",
			status: http.StatusNotFound,
			body:   `{"detail":"Message not found"}`,
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, 404, se.Code)
				assert.Equal(t, "Message not found", se.Detail)
			},
		},
		{
			name:   "validation detail",
			status: http.StatusUnprocessableEntity,
			body:   `{"detail":[{"loc":["body","account_id"],"msg":"field required"}]}`,
			check: func(t *testing.T, err error) {
				assert.Equal(t, 422, StatusCode(err))
				assert.Contains(t, err.Error(), "field required")
			},
		},
		{
			name:   "plain body",
			status: http.StatusInternalServerError,
			body:   "Internal Server Error",
			check: func(t *testing.T, err error) {
				assert.Equal(t, 500, StatusCode(err))
				assert.Contains(t, err.Error(), "Internal Server Error")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.ClassifyMessage(context.Background(), "m1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_Login(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "/auth/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		if r.PostForm.Get("username") != "ana" || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"Incorrect username or password"}`)
			return
		}
		io.WriteString(w, `{"access_token":"new-token","token_type":"bearer"}`)
	})
	c.SetToken("")

	_, err := c.Login(context.Background(), "ana", "wrong")
	assert.True(t, IsAuthError(err))

	tok, err := c.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	assert.Equal(t, "new-token", tok)
	assert.Equal(t, "new-token", c.token)
}

func TestClient_StreamSync(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req SyncRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.AccountID != 1 {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"detail":"Account not found"}`)
			return
		}
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.True(t, req.AutoClassify)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"status\":\"complete\"}\n\n")
	})

	body, err := c.StreamSync(context.Background(), SyncRequest{AccountID: 1, AutoClassify: true})
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"status\":\"complete\"}\n\n", string(data))

	_, err = c.StreamSync(context.Background(), SyncRequest{AccountID: 9})
	require.Error(t, err)
	assert.Equal(t, 404, StatusCode(err))
	assert.Contains(t, err.Error(), "Account not found")
}

func TestClient_RecentSyncs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/status", r.URL.Path)
		io.WriteString(w, `{"recent_syncs":[{"timestamp":"2024-05-02T08:00:00","status":"error","payload":{"account_id":1},"error":"LOGIN failed"}]}`)
	})

	syncs, err := c.RecentSyncs(context.Background())
	require.NoError(t, err)
	require.Len(t, syncs, 1)
	assert.Equal(t, "error", syncs[0].Status)
	assert.Equal(t, "LOGIN failed", syncs[0].Error)
	assert.Equal(t, time.May, syncs[0].Timestamp.Month())
}

func TestTimestamp_Null(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"date":null}`), &m))
	assert.True(t, m.Date.IsZero())

	err := json.Unmarshal([]byte(`{"date":"yesterday"}`), &m)
	assert.Error(t, err)
}
