package routes

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lgulliver/revvault/internal/events"
	"github.com/rs/zerolog/log"
)

// DeliveryIDHeader carries the caller's delivery ID; one is generated when
// absent
const DeliveryIDHeader = "X-Delivery-ID"

const maxBodyBytes = 10 << 20

// Processor handles one delivery body
type Processor interface {
	Process(ctx context.Context, deliveryID string, body []byte) (events.Result, error)
}

// EventRoutes registers the delivery endpoints on router. The log sink posts
// to /; /events is an alias.
func EventRoutes(router gin.IRoutes, processor Processor, auth gin.HandlerFunc) {
	handler := handleDelivery(processor)
	router.POST("/", auth, handler)
	router.POST("/events", auth, handler)
}

// handleDelivery answers 200 "OK" on success. Processing errors, including a
// body without an audit-log envelope, are answered with 200 and the error
// text so the transport does not redeliver. Only an unreadable or oversized
// body gets 400.
func handleDelivery(processor Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		deliveryID := c.GetHeader(DeliveryIDHeader)
		if deliveryID == "" {
			deliveryID = uuid.NewString()
		}
		c.Header(DeliveryIDHeader, deliveryID)

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			log.Warn().Err(err).Str("delivery_id", deliveryID).Msg("failed to read delivery body")
			c.String(http.StatusBadRequest, "failed to read request body")
			return
		}

		if _, err := processor.Process(c.Request.Context(), deliveryID, body); err != nil {
			c.String(http.StatusOK, err.Error())
			return
		}
		c.String(http.StatusOK, "OK")
	}
}
