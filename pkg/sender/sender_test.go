// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package sender

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigtrack/pigtrack/pkg/outbox"
)

type fakeOutbox struct {
	mu        sync.Mutex
	claimable [][]outbox.Item
	claimErr  error
	sent      [][]int64
	retries   [][]outbox.RetryItem
	deads     [][]outbox.DeadItem
	reclaims  int
}

func (f *fakeOutbox) Claim(_ context.Context, _ int, _ string) ([]outbox.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.claimable) == 0 {
		return nil, nil
	}
	batch := f.claimable[0]
	f.claimable = f.claimable[1:]
	return batch, nil
}

func (f *fakeOutbox) AckSent(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ids) > 0 {
		f.sent = append(f.sent, ids)
	}
	return nil
}

func (f *fakeOutbox) AckRetry(_ context.Context, items []outbox.RetryItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(items) > 0 {
		f.retries = append(f.retries, items)
	}
	return nil
}

func (f *fakeOutbox) AckDead(_ context.Context, items []outbox.DeadItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(items) > 0 {
		f.deads = append(f.deads, items)
	}
	return nil
}

func (f *fakeOutbox) ReclaimStale(_ context.Context, _ int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaims++
	return 0, nil
}

type recordedRequest struct {
	idempotencyKey string
	contentType    string
	body           string
}

func testEndpoint(t *testing.T, status int) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{
			idempotencyKey: r.Header.Get("Idempotency-Key"),
			contentType:    r.Header.Get("Content-Type"),
			body:           string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func testWorker(url string, ob Outbox) *Worker {
	settings := DefaultSettings()
	settings.IngestURL = url
	return NewWorker(settings, "sender_test", ob, clock.New())
}

func TestProcessOnceDeliversAndAcksSent(t *testing.T) {
	srv, reqs := testEndpoint(t, http.StatusOK)
	ob := &fakeOutbox{claimable: [][]outbox.Item{{
		{ID: 1, DedupKey: "PIG_001|POI Passage|R|V1|20240512", Payload: []byte(`{"Pig ID":"PIG_001"}`)},
		{ID: 2, DedupKey: "PIG_002|30 Min Update|1715500800", Payload: []byte(`{"Pig ID":"PIG_002"}`)},
	}}}
	w := testWorker(srv.URL, ob)

	assert.True(t, w.processOnce(context.Background(), 1))

	require.Len(t, *reqs, 2)
	assert.Equal(t, "PIG_001|POI Passage|R|V1|20240512", (*reqs)[0].idempotencyKey)
	assert.Equal(t, "application/json", (*reqs)[0].contentType)
	assert.JSONEq(t, `{"Pig ID":"PIG_001"}`, (*reqs)[0].body)

	require.Len(t, ob.sent, 1)
	assert.Equal(t, []int64{1, 2}, ob.sent[0])
	assert.Empty(t, ob.retries)
	assert.Empty(t, ob.deads)
}

func TestProcessOnceFailureSchedulesRetry(t *testing.T) {
	srv, _ := testEndpoint(t, http.StatusBadGateway)
	ob := &fakeOutbox{claimable: [][]outbox.Item{{
		{ID: 3, DedupKey: "k3", Payload: []byte(`{}`), AttemptCount: 0},
	}}}
	w := testWorker(srv.URL, ob)

	assert.True(t, w.processOnce(context.Background(), 1))

	require.Len(t, ob.retries, 1)
	require.Len(t, ob.retries[0], 1)
	item := ob.retries[0][0]
	assert.Equal(t, int64(3), item.ID)
	assert.Equal(t, 1, item.AttemptCount)
	// First retry waits ~10s: schedule[0] plus up to 10% jitter.
	assert.GreaterOrEqual(t, item.DelaySeconds, 10)
	assert.LessOrEqual(t, item.DelaySeconds, 11)
	assert.Contains(t, item.LastError, "http 502")
	assert.Empty(t, ob.sent)
	assert.Empty(t, ob.deads)
}

func TestProcessOnceExhaustedAttemptsGoDead(t *testing.T) {
	srv, _ := testEndpoint(t, http.StatusInternalServerError)
	ob := &fakeOutbox{claimable: [][]outbox.Item{{
		{ID: 4, DedupKey: "k4", Payload: []byte(`{}`), AttemptCount: 4},
	}}}
	w := testWorker(srv.URL, ob)

	assert.True(t, w.processOnce(context.Background(), 1))

	require.Len(t, ob.deads, 1)
	require.Len(t, ob.deads[0], 1)
	assert.Equal(t, int64(4), ob.deads[0][0].ID)
	assert.Equal(t, 5, ob.deads[0][0].AttemptCount)
	assert.Empty(t, ob.retries)
}

func TestProcessOnceTransportErrorIsFailure(t *testing.T) {
	// Closed server: connection refused, not an HTTP status.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	ob := &fakeOutbox{claimable: [][]outbox.Item{{
		{ID: 5, DedupKey: "k5", Payload: []byte(`{}`)},
	}}}
	w := testWorker(url, ob)

	assert.True(t, w.processOnce(context.Background(), 1))

	require.Len(t, ob.retries, 1)
	assert.Contains(t, ob.retries[0][0].LastError, "exc")
}

func TestProcessOnceMixedBatch(t *testing.T) {
	var mu sync.Mutex
	codeByKey := map[string]int{"ok": http.StatusOK, "fail": http.StatusServiceUnavailable}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		code := codeByKey[r.Header.Get("Idempotency-Key")]
		mu.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)

	ob := &fakeOutbox{claimable: [][]outbox.Item{{
		{ID: 1, DedupKey: "ok", Payload: []byte(`{}`)},
		{ID: 2, DedupKey: "fail", Payload: []byte(`{}`)},
	}}}
	w := testWorker(srv.URL, ob)

	assert.True(t, w.processOnce(context.Background(), 1))

	require.Len(t, ob.sent, 1)
	assert.Equal(t, []int64{1}, ob.sent[0])
	require.Len(t, ob.retries, 1)
	assert.Equal(t, int64(2), ob.retries[0][0].ID)
}

func TestProcessOnceEmptyClaimReturnsFalse(t *testing.T) {
	srv, reqs := testEndpoint(t, http.StatusOK)
	ob := &fakeOutbox{}
	w := testWorker(srv.URL, ob)

	assert.False(t, w.processOnce(context.Background(), 1))
	assert.Empty(t, *reqs)
}

func TestReclaimRunsOnSchedule(t *testing.T) {
	srv, _ := testEndpoint(t, http.StatusOK)
	ob := &fakeOutbox{}
	w := testWorker(srv.URL, ob)

	// Loops 0 and 10 hit the cadence with ReclaimEvery=10; 1..9 do not.
	for loop := 0; loop <= 10; loop++ {
		w.processOnce(context.Background(), loop)
	}
	assert.Equal(t, 2, ob.reclaims)
}

func TestTruncateErr(t *testing.T) {
	long := strings.Repeat("x", 2000)
	assert.Len(t, truncateErr(long), 1000)
	assert.Equal(t, "short", truncateErr("short"))
}
