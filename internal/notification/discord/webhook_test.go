package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-core/internal/risk"
	"leverage-core/pkg/errors"
)

func TestSendPostsEmbed(t *testing.T) {
	var got WebhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.Send(context.Background(), risk.RiskAlert{
		ID:           "a1",
		Type:         risk.AlertMarginCall,
		Level:        risk.LevelCritical,
		Message:      "margin ratio 0.04 below 0.05",
		Symbol:       optional.None[string](),
		CurrentValue: optional.Some(0.04),
		Threshold:    optional.Some(0.05),
		Timestamp:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "Risk alert: margin_call", e.Title)
	assert.Equal(t, ColorCritical, e.Color)
	assert.Equal(t, "2024-03-01T00:00:00Z", e.Timestamp)
	require.Len(t, e.Fields, 3)
	assert.Equal(t, "0.0400", e.Fields[1].Value)
	assert.Equal(t, "0.0500", e.Fields[2].Value)
}

func TestSendReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, nil).SendInfo(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExchangeRequestFailed))
	assert.Contains(t, err.Error(), "429")
}

func TestSendRequiresURL(t *testing.T) {
	err := NewClient("", nil).SendInfo(context.Background(), "hello")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}
