package emailprovider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMessage() domain.OutboundMessage {
	return domain.OutboundMessage{
		From:    "Collections <collections@example.com>",
		To:      "jane@example.com",
		Subject: "Re: My account",
		HTML:    "<p>Hello</p>",
		Text:    "Hello\n",
		Headers: map[string]string{
			"Message-ID":  "<abc@example.com>",
			"In-Reply-To": "<m1@mail.debtor.example>",
		},
		Tags: map[string]string{"thread_id": "t1", "debt_id": "d1"},
	}
}

func TestResendProvider_Name(t *testing.T) {
	assert.Equal(t, "resend", NewResendProvider(testLogger(), "url", "key", nil).Name())
}

func TestResendProvider_Send_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ResendSendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"jane@example.com"}, req.To)
		assert.Equal(t, "Re: My account", req.Subject)
		assert.Equal(t, "<m1@mail.debtor.example>", req.Headers["In-Reply-To"])
		assert.Equal(t, []ResendTag{{Name: "debt_id", Value: "d1"}, {Name: "thread_id", Value: "t1"}}, req.Tags)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"49a3999c-0ce1-4ea6-ab68-afcd6dc2e794"}`)
	}))
	defer server.Close()

	p := NewResendProvider(testLogger(), server.URL, "re_test", server.Client())
	res, err := p.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "49a3999c-0ce1-4ea6-ab68-afcd6dc2e794", res.ProviderMessageID)
}

func TestResendProvider_Send_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"statusCode":422,"name":"validation_error","message":"Invalid to field"}`)
	}))
	defer server.Close()

	p := NewResendProvider(testLogger(), server.URL, "re_test", server.Client())
	res, err := p.Send(context.Background(), testMessage())
	assert.Nil(t, res)
	assert.EqualError(t, err, "resend API error: status 422, validation_error: Invalid to field")
}

func TestResendProvider_Send_RawErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream down")
	}))
	defer server.Close()

	_, err := NewResendProvider(testLogger(), server.URL, "re_test", server.Client()).Send(context.Background(), testMessage())
	assert.EqualError(t, err, "resend API error: status 502, raw_body: upstream down")
}

func TestResendProvider_Send_UnreadableSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "OK")
	}))
	defer server.Close()

	res, err := NewResendProvider(testLogger(), server.URL, "re_test", server.Client()).Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Empty(t, res.ProviderMessageID)
}

func TestResendProvider_Send_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewResendProvider(testLogger(), server.URL, "re_test", server.Client()).Send(ctx, testMessage())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider(testLogger(), false, 0)
	res, err := p.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Contains(t, res.ProviderMessageID, "mock-")
	require.Len(t, p.Sent(), 1)
	assert.Equal(t, "jane@example.com", p.Sent()[0].To)

	failing := NewMockProvider(testLogger(), true, 0)
	_, err = failing.Send(context.Background(), testMessage())
	assert.Error(t, err)
	assert.Empty(t, failing.Sent())
}

func TestNewFromConfig(t *testing.T) {
	sender, err := NewFromConfig(config.EmailConfig{Provider: "resend", APIURL: "http://localhost", APIKey: "re_123"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "resend", sender.Name())

	sender, err = NewFromConfig(config.EmailConfig{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &MockProvider{}, sender)

	_, err = NewFromConfig(config.EmailConfig{Provider: "resend"}, testLogger())
	assert.Error(t, err)

	_, err = NewFromConfig(config.EmailConfig{Provider: "carrier-pigeon"}, testLogger())
	assert.Error(t, err)
}
