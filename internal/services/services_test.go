package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatflow/backend/internal/testutil"
)

func TestHTTPAIResponder(t *testing.T) {
	var got AIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reply", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "We open at 9."})
	}))
	defer srv.Close()

	ai := NewHTTPAIResponder(srv.URL+"/", time.Second)
	reply, err := ai.GenerateReply(context.Background(), AIRequest{TenantID: "t1", ChatID: "c1", Prompt: "When do you open?"})
	require.NoError(t, err)
	assert.Equal(t, "We open at 9.", reply)
	assert.Equal(t, AIRequest{TenantID: "t1", ChatID: "c1", Prompt: "When do you open?"}, got)
}

func TestHTTPAIResponder_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"bad body", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not json")) }},
		{"empty reply", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"reply":"  "}`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewHTTPAIResponder(srv.URL, time.Second).GenerateReply(context.Background(), AIRequest{Prompt: "hi"})
			require.Error(t, err)
			assert.True(t, IsUpstreamError(err))
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewHTTPAIResponder(url, time.Second).GenerateReply(context.Background(), AIRequest{Prompt: "hi"})
		assert.True(t, IsUpstreamError(err))
	})
}

func TestWebhookNotifier(t *testing.T) {
	received := make(chan Notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		received <- n
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	note := Notification{Text: "New message", TenantID: "t1", ChatID: "c1", NotifyOwner: true, OwnerID: "o1", NotifyAllStaff: true}
	require.NoError(t, NewWebhookNotifier(srv.URL, time.Second).NotifyHumans(context.Background(), note))
	assert.Equal(t, note, <-received)
}

func TestWebhookNotifier_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).NotifyHumans(context.Background(), Notification{})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.StatusCode)
	assert.Equal(t, "webhook", ue.Service)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyHumans(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func TestMultiNotifier(t *testing.T) {
	first := new(MockNotifier)
	second := new(MockNotifier)
	note := Notification{ChatID: "c1"}

	first.On("NotifyHumans", mock.Anything, note).Return(errors.New("boom"))
	second.On("NotifyHumans", mock.Anything, note).Return(nil)

	err := MultiNotifier{first, second}.NotifyHumans(context.Background(), note)
	assert.EqualError(t, err, "boom")
	first.AssertExpectations(t)
	second.AssertExpectations(t)

	assert.NoError(t, NopNotifier{}.NotifyHumans(context.Background(), note))
}

func TestNATSNotifier(t *testing.T) {
	url := testutil.StartNATS(t)

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	notifier := NewNATSNotifier(nc, "chatflow.notifications")
	sub, err := nc.SubscribeSync(notifier.Subject("t1"))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	note := Notification{Text: "New message", TenantID: "t1", ChatID: "c1", AssigneeID: "s1"}
	require.NoError(t, notifier.NotifyHumans(context.Background(), note))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var got Notification
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, note, got)
}
