package statemanager

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes adds the operation tracking endpoints to an echo group.
func (m *Manager) RegisterRoutes(g *echo.Group) {
	g.GET("/state", m.handleListOperations)
	g.GET("/state/stats", m.handleGetStats)
	g.GET("/state/:id", m.handleGetOperation)
}

func (m *Manager) handleListOperations(c echo.Context) error {
	return c.JSON(http.StatusOK, m.ListOperations())
}

func (m *Manager) handleGetOperation(c echo.Context) error {
	op := m.GetOperation(c.Param("id"))
	if op == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "operation not found"})
	}
	return c.JSON(http.StatusOK, op)
}

func (m *Manager) handleGetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, m.GetStats())
}
