package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func historyDisabled(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event history is not configured"})
}

func orderEventsHandler(history repository.OrderEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if history == nil {
			return historyDisabled(c)
		}
		limit, _ := pageParams(c, 100)
		id := c.Param("id")

		evs, err := history.ListByOrder(c.Request().Context(), id, limit)
		if err != nil {
			c.Logger().Errorf("clickhouse list by order failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"order_id": id,
			"count":    len(evs),
			"results":  evs,
		})
	}
}

func listEventsHandler(history repository.OrderEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if history == nil {
			return historyDisabled(c)
		}
		limit, offset := pageParams(c, 50)

		var typ model.EventType
		if raw := strings.TrimSpace(c.QueryParam("type")); raw != "" {
			typ = model.EventType(raw)
			if !typ.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown event type"})
			}
		}

		evs, err := history.List(c.Request().Context(), typ, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(evs),
			"results": evs,
		})
	}
}
