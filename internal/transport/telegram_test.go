package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monitorhub/dispatcher/internal/config"
)

func TestTelegram_Send(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var (
		path   string
		params map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer server.Close()

	tg, err := NewTelegram(config.TelegramConfig{Token: "123:abc", ChatID: 42, ThreadID: 7, APIURL: server.URL})
	require.NoError(t, err)

	require.NoError(t, tg.Send(context.Background(), testNotification()))

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", params["chat_id"])
	assert.Equal(t, "7", params["message_thread_id"])

	text, _ := params["text"].(string)
	assert.True(t, strings.HasPrefix(text, "[dispatcher] diskSpaceCheck failed on web-01: ThresholdExceeded\n\nCheck:"))
}

func TestTelegram_SendAPIError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	tg, err := NewTelegram(config.TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: server.URL})
	require.NoError(t, err)

	err = tg.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram send failed")
}

func TestNewTelegram_Validation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewTelegram(config.TelegramConfig{ChatID: 1})
	require.ErrorIs(t, err, ErrInvalidTelegramConfig)

	_, err = NewTelegram(config.TelegramConfig{Token: "123:abc"})
	require.ErrorIs(t, err, ErrInvalidTelegramConfig)
}
