package api

import (
	"net/http"
	"strings"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// orderSummary is the client view of an order
type orderSummary struct {
	ID            int64           `json:"id"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	PaymentStatus string          `json:"paymentStatus"`
	PaymentRef    string          `json:"paymentRef"`
}

func summarize(o *models.Order) orderSummary {
	return orderSummary{
		ID:            o.ID,
		TotalAmount:   o.TotalAmount,
		PaymentStatus: o.PaymentStatus,
		PaymentRef:    o.PaymentRef,
	}
}

func (h *Handler) pay(c *gin.Context) {
	var req service.InitiateRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	resp, err := h.checkout.Initiate(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// callbackRef reads the transaction reference the gateway sent, from the
// query string or a JSON body, under either of the names it uses.
func callbackRef(c *gin.Context) string {
	for _, key := range []string{"tx_ref", "trx_ref"} {
		if v := strings.TrimSpace(c.Query(key)); v != "" {
			return v
		}
	}
	if c.Request.Method != http.MethodPost || c.Request.ContentLength == 0 {
		return ""
	}
	var body struct {
		TxRef  string `json:"tx_ref"`
		TrxRef string `json:"trx_ref"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return ""
	}
	if body.TxRef != "" {
		return strings.TrimSpace(body.TxRef)
	}
	return strings.TrimSpace(body.TrxRef)
}

func (h *Handler) paymentCallback(c *gin.Context) {
	ref := callbackRef(c)
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing transaction reference"})
		return
	}

	order, err := h.checkout.HandleCallback(c.Request.Context(), ref)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Callback processed",
		"paymentStatus": order.PaymentStatus,
	})
}

func (h *Handler) verifyPayment(c *gin.Context) {
	target := h.checkout.HandleRedirect(c.Request.Context(), c.Param("tx_ref"))
	c.Redirect(http.StatusFound, target)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.checkout.ListOrders(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]orderSummary, 0, len(orders))
	for i := range orders {
		out = append(out, summarize(&orders[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.checkout.GetOrder(c.Request.Context(), auth.UserID(c), c.Param("tx_ref"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(order))
}
