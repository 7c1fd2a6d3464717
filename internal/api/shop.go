package api

import (
	"errors"
	"net/http"
	"strings"

	"storefront/internal/auth"
	"storefront/internal/coupon"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
)

type productRef struct {
	ProductID int64 `json:"productId" binding:"required"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type couponRequest struct {
	Code string `json:"code" binding:"required"`
}

// products

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.List(c.Request.Context(), strings.TrimSpace(c.Query("search")))
	if err == nil {
		products, err = h.favorites.MarkFavorites(c.Request.Context(), auth.UserID(c), products)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) featuredProducts(c *gin.Context) {
	products, err := h.catalog.Featured(c.Request.Context())
	if err == nil {
		products, err = h.favorites.MarkFavorites(c.Request.Context(), auth.UserID(c), products)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) productsByCategory(c *gin.Context) {
	products, err := h.catalog.ByCategory(c.Request.Context(), c.Param("category"))
	if err == nil {
		products, err = h.favorites.MarkFavorites(c.Request.Context(), auth.UserID(c), products)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) recommendedProducts(c *gin.Context) {
	products, err := h.catalog.Recommended(c.Request.Context())
	if err == nil {
		products, err = h.favorites.MarkFavorites(c.Request.Context(), auth.UserID(c), products)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}
	product, err := h.catalog.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) toggleFeatured(c *gin.Context) {
	id, ok := pathID(c, "id", "product")
	if !ok {
		return
	}
	product, err := h.catalog.ToggleFeatured(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := pathID(c, "id", "product")
	if !ok {
		return
	}
	if err := h.catalog.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}

// cart

func (h *Handler) respondWithCart(c *gin.Context) {
	lines, err := h.cart.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lines)
}

func (h *Handler) getCart(c *gin.Context) {
	h.respondWithCart(c)
}

func (h *Handler) addToCart(c *gin.Context) {
	var req productRef
	if !bindJSON(c, &req) {
		return
	}
	if _, err := h.cart.AddItem(c.Request.Context(), auth.UserID(c), req.ProductID); err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWithCart(c)
}

func (h *Handler) updateQuantity(c *gin.Context) {
	productID, ok := pathID(c, "productId", "product")
	if !ok {
		return
	}
	var req quantityRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.cart.SetQuantity(c.Request.Context(), auth.UserID(c), productID, *req.Quantity); err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWithCart(c)
}

func (h *Handler) removeFromCart(c *gin.Context) {
	var req productRef
	if !bindJSON(c, &req) {
		return
	}
	if err := h.cart.RemoveItem(c.Request.Context(), auth.UserID(c), req.ProductID); err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWithCart(c)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.cart.Clear(c.Request.Context(), auth.UserID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared"})
}

// coupons

func (h *Handler) myCoupon(c *gin.Context) {
	cp, err := h.coupons.MyCoupon(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *Handler) validateCoupon(c *gin.Context) {
	var req couponRequest
	if !bindJSON(c, &req) {
		return
	}
	cp, err := h.coupons.Validate(c.Request.Context(), strings.TrimSpace(req.Code), auth.UserID(c))
	util.CouponValidationsTotal.WithLabelValues(couponResult(err)).Inc()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":            "Coupon is valid",
		"code":               cp.Code,
		"discountPercentage": cp.DiscountPercentage,
	})
}

func couponResult(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, coupon.ErrCouponNotFound):
		return "not_found"
	case errors.Is(err, coupon.ErrCouponExpired):
		return "expired"
	case errors.Is(err, coupon.ErrInvalidDiscount):
		return "invalid"
	}
	return "error"
}

// favorites

func (h *Handler) toggleFavorite(c *gin.Context) {
	var req productRef
	if !bindJSON(c, &req) {
		return
	}
	favorited, err := h.favorites.Toggle(c.Request.Context(), auth.UserID(c), req.ProductID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorited": favorited})
}

func (h *Handler) listFavorites(c *gin.Context) {
	products, err := h.favorites.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}
