package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// GetRun handles GET /v1/migrations/runs/:id and returns the polled
// state of one import run. Run states expire a day after the run, so
// a 404 means either an unknown id or an old run.
func (h *ImportHandler) GetRun(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid run id"})
	}
	st, ok := h.Runs.Get(c.Request().Context(), id)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, st)
}
