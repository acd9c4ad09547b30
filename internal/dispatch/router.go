package dispatch

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the dispatcher's gin engine, exposing
// POST /dispatch/:function_id.
func (d *Dispatcher) Router(deadlineHoursFor func(functionID string) float64) *gin.Engine {
	r := gin.Default()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/dispatch/:function_id", func(c *gin.Context) {
		functionID := c.Param("function_id")
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}

		requestID := c.GetHeader("X-Request-Id")
		deadlineHours := deadlineHoursFor(functionID)

		outcome, err := d.Dispatch(c.Request.Context(), functionID, requestID, payload, time.Now().UTC(), deadlineHours)
		switch {
		case errors.Is(err, ErrUnknownFunction):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown function"})
			return
		case errors.Is(err, ErrNoViableSlot):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no viable slot within deadline"})
			return
		case err != nil:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		if outcome.Forwarded {
			c.Data(outcome.StatusCode, "application/json", outcome.Body)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"task_id":           outcome.TaskID,
			"scheduled_for_utc": outcome.ScheduledForUTC,
		})
	})
	return r
}
