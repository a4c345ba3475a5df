package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "AgentReceipt/internal/errors"
)

func TestFanoutSendsOnlyAlertingCodes(t *testing.T) {
	t.Parallel()

	events := make(chan Event, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		events <- event
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dispatcher := NewFanout(&WebhookNotifier{URL: srv.URL}, &LogNotifier{}, nil)
	ctx := context.Background()

	if err := dispatcher.Notify(ctx, Event{Code: xerrors.CodeStorageFailure, JobID: "job-1", OccurredAt: time.Now()}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := dispatcher.Notify(ctx, Event{Code: xerrors.CodeInvalidInput, JobID: "job-2"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one webhook call, got %d", len(events))
	}
	if last := <-events; last.JobID != "job-1" || last.Channel != ChannelWebhook {
		t.Fatalf("unexpected payload %+v", last)
	}
}

func TestWebhookReportsFailureStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewFanout(&WebhookNotifier{URL: srv.URL}).Notify(context.Background(), Event{Code: xerrors.CodeStorageFailure})
	if err == nil {
		t.Fatal("expected webhook failure to surface")
	}
}
