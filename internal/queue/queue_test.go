package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueReturnsServerTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/enqueue", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(enqueueResponse{TaskID: "server-task-1"})
	}))
	defer srv.Close()

	q := New(srv.URL, "tok-123", time.Second)
	taskID, err := q.Enqueue(context.Background(), "https://fn.example/invoke", []byte(`{}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "server-task-1", taskID)
}

func TestEnqueueMintsLocalIDOnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	q := New(srv.URL, "tok", time.Second)
	taskID, err := q.Enqueue(context.Background(), "https://fn.example/invoke", []byte(`{}`), time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, taskID, "expected a locally minted task id when the response is malformed")
}

func TestEnqueueFailsOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	q := New(srv.URL, "tok", time.Second)
	_, err := q.Enqueue(context.Background(), "https://fn.example/invoke", []byte(`{}`), time.Now())
	assert.Error(t, err, "expected a 5xx response to return an error")
}

func TestEnqueueFailsOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	q := New(srv.URL, "tok", time.Second)
	_, err := q.Enqueue(context.Background(), "https://fn.example/invoke", []byte(`{}`), time.Now())
	assert.Error(t, err, "expected a 4xx response to return an error")
}
