package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/takato23/lookescolar-sub010/internal/apperr"
	"github.com/takato23/lookescolar-sub010/internal/aws"
	"github.com/takato23/lookescolar-sub010/internal/catalog"
	"github.com/takato23/lookescolar-sub010/internal/gateway"
	"github.com/takato23/lookescolar-sub010/internal/metrics"
	"github.com/takato23/lookescolar-sub010/internal/orders"
	"github.com/takato23/lookescolar-sub010/internal/reconcile"
	"github.com/takato23/lookescolar-sub010/internal/validation"
	"github.com/takato23/lookescolar-sub010/internal/webhook"
)

// HandlerConfig groups dependencies for the settlement routes.
type HandlerConfig struct {
	Catalog   catalog.Catalog
	Orders    *orders.Store
	Gateway   *gateway.Client
	Engine    *reconcile.Engine
	Verifier  *webhook.Verifier
	Publisher *aws.Publisher
	Alerter   *metrics.Alerter

	// NotificationURL is where the gateway posts webhooks for preferences we create.
	NotificationURL string

	// WebhookBudget is the gateway's acknowledgement deadline (default 3s).
	WebhookBudget time.Duration
}

// RegisterRoutes registers the settlement API.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/orders", createOrderHandler(cfg, v))
	r.GET("/orders/:id", getOrderHandler(cfg))
	r.PATCH("/orders/:id", updateOrderStatusHandler(cfg, v))
	r.POST("/webhooks/payments", webhookHandler(cfg))
}

func createOrderHandler(cfg HandlerConfig, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		gallery, err := cfg.Catalog.Resolve(ctx, req.Token)
		if err != nil {
			respondError(c, err)
			return
		}

		priceList, err := cfg.Catalog.PriceList(ctx, gallery.EventID)
		if err != nil {
			respondError(c, err)
			return
		}

		lines, totalCents, currency, err := priceCart(req.Items, priceList)
		if err != nil {
			respondError(c, err)
			return
		}

		orderID := uuid.NewString()

		if err := claimPendingSlot(c, cfg, req.Token, orderID); err != nil {
			return // response already written
		}

		order := orders.Order{
			OrderID:    orderID,
			Token:      req.Token,
			EventID:    gallery.EventID,
			Status:     orders.StatusPending,
			TotalCents: totalCents,
			Currency:   currency,
			Contact: orders.ContactInfo{
				Name:    req.Contact.Name,
				Email:   req.Contact.Email,
				Phone:   req.Contact.Phone,
				Address: req.Contact.Address,
			},
			Items: lines,
		}
		if err := cfg.Orders.Create(ctx, order); err != nil {
			_ = cfg.Orders.ReleasePending(ctx, req.Token)
			log.Printf("[orders] create order=%s: %v", orderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "order_creation_failed"})
			return
		}

		prefItems := make([]gateway.PreferenceItem, 0, len(lines))
		for _, ln := range lines {
			entry := priceList.Item(ln.PriceListItemID)
			prefItems = append(prefItems, gateway.PreferenceItem{
				Title:          entry.Label,
				Quantity:       ln.Quantity,
				UnitPriceCents: ln.UnitPriceCents,
				Currency:       currency,
			})
		}
		pref, err := cfg.Gateway.CreatePreference(ctx, gateway.PreferenceRequest{
			OrderID:         orderID,
			Items:           prefItems,
			Payer:           gateway.Payer{Name: req.Contact.Name, Email: req.Contact.Email},
			NotificationURL: cfg.NotificationURL,
		})
		if err != nil {
			// no payment can ever arrive for this order; fail it and free the slot
			if uerr := cfg.Orders.UpdateStatus(ctx, orderID, orders.StatusPending, orders.StatusFailed); uerr != nil {
				log.Printf("[orders] fail order=%s after gateway error: %v", orderID, uerr)
			}
			_ = cfg.Orders.ReleasePending(ctx, req.Token)
			log.Printf("[orders] create preference order=%s: %v", orderID, err)
			c.JSON(apperr.HTTPStatus(err), gin.H{"error": "payment_unavailable", "msg": "could not start payment, try again"})
			return
		}

		if err := cfg.Orders.SetPreference(ctx, orderID, pref.ID); err != nil {
			// reconciliation correlates by external reference, not preference id
			log.Printf("[orders] set preference order=%s: %v", orderID, err)
		}

		c.Header("Location", "/orders/"+orderID)
		c.JSON(http.StatusCreated, gin.H{
			"orderId":      orderID,
			"totalCents":   totalCents,
			"currency":     currency,
			"preferenceId": pref.ID,
			"initUrl":      pref.InitURL,
		})
	}
}

// priceCart validates every submitted line against the authoritative price
// list and computes the total. A client-claimed price that disagrees with the
// catalog rejects the cart; it is never silently corrected.
func priceCart(items []validation.CartItem, priceList *catalog.PriceList) ([]orders.Item, int64, string, error) {
	lines := make([]orders.Item, 0, len(items))
	var totalCents int64
	currency := ""

	for _, it := range items {
		entry := priceList.Item(it.PriceListItemID)
		if entry == nil {
			return nil, 0, "", apperr.ErrItemNotFound
		}
		if it.UnitPriceCents != nil && *it.UnitPriceCents != entry.UnitPriceCents {
			return nil, 0, "", apperr.ErrPriceMismatch
		}
		if currency == "" {
			currency = entry.Currency
		}

		lineTotal := it.Quantity * entry.UnitPriceCents
		lines = append(lines, orders.Item{
			PhotoID:         it.PhotoID,
			PriceListItemID: it.PriceListItemID,
			Quantity:        it.Quantity,
			UnitPriceCents:  entry.UnitPriceCents,
			LineTotalCents:  lineTotal,
		})
		totalCents += lineTotal
	}
	return lines, totalCents, currency, nil
}

// claimPendingSlot enforces at most one unresolved pending order per token.
// Writes the conflict response itself and returns an error to short-circuit.
func claimPendingSlot(c *gin.Context, cfg HandlerConfig, token, orderID string) error {
	ctx := c.Request.Context()

	created, existingID, err := cfg.Orders.ClaimPending(ctx, token, orderID)
	if err != nil {
		log.Printf("[orders] claim pending token=%s: %v", token, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_creation_failed"})
		return err
	}
	if created {
		return nil
	}

	existing, err := cfg.Orders.Get(ctx, existingID)
	if err != nil {
		log.Printf("[orders] inspect pending claim token=%s: %v", token, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_creation_failed"})
		return err
	}
	if existing != nil && existing.Status == orders.StatusPending {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "pending_order_exists",
			"orderId": existing.OrderID,
		})
		return apperr.ErrDuplicatePending
	}

	// stale claim: its order already resolved (or vanished); take the slot over
	if err := cfg.Orders.ReplacePendingClaim(ctx, token, orderID); err != nil {
		log.Printf("[orders] replace pending claim token=%s: %v", token, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_creation_failed"})
		return err
	}
	return nil
}

func getOrderHandler(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ord, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			log.Printf("[orders] get order=%s: %v", c.Param("id"), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		if ord == nil || ord.Status == "" {
			// guard rows share the table but are not orders
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusOK, ord)
	}
}

func updateOrderStatusHandler(cfg HandlerConfig, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		orderID := c.Param("id")

		var req validation.UpdateOrderStatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		ord, err := cfg.Orders.Get(ctx, orderID)
		if err != nil {
			log.Printf("[orders] get order=%s: %v", orderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		if ord == nil || ord.Status == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		if !orders.CanTransition(ord.Status, orders.StatusDelivered) {
			respondError(c, apperr.ErrInvalidTransition)
			return
		}

		if err := cfg.Orders.UpdateStatus(ctx, orderID, orders.StatusApproved, orders.StatusDelivered); err != nil {
			if errors.Is(err, orders.ErrStatusMismatch) {
				respondError(c, apperr.ErrInvalidTransition)
				return
			}
			log.Printf("[orders] deliver order=%s: %v", orderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": orders.StatusDelivered})
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Kind(err)})
}
