package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/dispatcher"
	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	"github.com/jmehdipour/order-pipeline/internal/util"
	echo "github.com/labstack/echo/v4"
)

// orderResponse is the client-facing projection of an order.
type orderResponse struct {
	ID        string            `json:"id"`
	Item      string            `json:"item"`
	Quantity  int               `json:"quantity"`
	Status    model.OrderStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

func project(o model.Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		Item:      o.Item,
		Quantity:  o.Quantity,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
}

func createOrderHandler(d OrderSubmitter) echo.HandlerFunc {
	return func(c echo.Context) error {
		// UseNumber keeps fractional quantities visible to validation
		dec := json.NewDecoder(c.Request().Body)
		dec.UseNumber()

		var req dispatcher.Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "request body missing"})
			}
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		}

		o, err := d.Submit(c.Request().Context(), &req)
		if err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": ve.Reason})
			}

			c.Logger().Errorf("create order failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		return c.JSON(http.StatusCreated, project(*o))
	}
}

func listOrdersHandler(orders OrderStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pageParams(c, 100)

		list, err := orders.ListNewestFirst(c.Request().Context(), limit, offset)
		if err != nil {
			c.Logger().Errorf("list orders failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		out := make([]orderResponse, 0, len(list))
		for _, o := range list {
			out = append(out, project(o))
		}
		return c.JSON(http.StatusOK, out)
	}
}

func getOrderHandler(orders OrderStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if !util.ValidID(id) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
		}

		o, err := orders.GetByID(c.Request().Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
		}
		if err != nil {
			c.Logger().Errorf("get order %s failed: %v", id, err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		return c.JSON(http.StatusOK, project(*o))
	}
}

func deleteOrderHandler(orders OrderStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if !util.ValidID(id) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
		}

		deleted, err := orders.DeleteByID(c.Request().Context(), id)
		if err != nil {
			c.Logger().Errorf("delete order %s failed: %v", id, err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		if !deleted {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
		}

		return c.NoContent(http.StatusNoContent)
	}
}

// pageParams reads limit (1..1000) and offset (>= 0); bad values fall back to defaults.
func pageParams(c echo.Context, defLimit int) (int, int) {
	limit := defLimit
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
