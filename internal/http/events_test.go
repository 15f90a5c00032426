package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/config"
	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	evs     []model.OrderEvent
	lastTyp model.EventType
}

func (h *fakeHistory) ListByOrder(_ context.Context, orderID string, limit int) ([]model.OrderEvent, error) {
	var out []model.OrderEvent
	for _, ev := range h.evs {
		if ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (h *fakeHistory) List(_ context.Context, typ model.EventType, limit, offset int) ([]model.OrderEvent, error) {
	h.lastTyp = typ
	return h.evs, nil
}

func (h *fakeHistory) InsertBatch(context.Context, []model.OrderEvent) error { return nil }

func TestOrderEventsHistory(t *testing.T) {
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	h := &fakeHistory{evs: []model.OrderEvent{
		{OrderID: "01A", Type: model.EventCreated, Status: model.StatusPending, At: at},
		{OrderID: "01A", Type: model.EventProcessed, Status: model.StatusProcessed, At: at.Add(time.Second)},
		{OrderID: "01B", Type: model.EventCreated, Status: model.StatusPending, At: at},
	}}
	s := NewServer(config.Config{}, Deps{Orders: &fakeStore{}, History: h})

	rec := do(s, http.MethodGet, "/orders/01A/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)

	rec = do(s, http.MethodGet, "/reports/events?type=processed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.EventProcessed, h.lastTyp)

	rec = do(s, http.MethodGet, "/reports/events?type=shipped", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
