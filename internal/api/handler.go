package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AuthAPI is the account surface used by the auth routes
type AuthAPI interface {
	SendOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string) error
	ForgotPassword(ctx context.Context, email string) error
	VerifyResetOTP(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, next string) error
	Signup(ctx context.Context, req service.SignupRequest) (*models.User, *auth.TokenPair, error)
	Login(ctx context.Context, email, password string) (*models.User, *auth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Refresh(ctx context.Context, refreshToken string) (string, time.Time, error)
	Profile(ctx context.Context, userID int64) (*models.User, error)
	UpdateProfile(ctx context.Context, userID int64, name, phone string) (*models.User, error)
	ChangePassword(ctx context.Context, userID int64, current, next string) error
}

// CatalogAPI serves product browsing and admin catalog changes
type CatalogAPI interface {
	List(ctx context.Context, search string) ([]models.Product, error)
	Featured(ctx context.Context) ([]models.Product, error)
	ByCategory(ctx context.Context, category string) ([]models.Product, error)
	Recommended(ctx context.Context) ([]models.Product, error)
	Create(ctx context.Context, req service.CreateProductRequest) (*models.Product, error)
	ToggleFeatured(ctx context.Context, id int64) (*models.Product, error)
	Delete(ctx context.Context, id int64) error
}

// CartAPI mutates and reads the caller's cart
type CartAPI interface {
	AddItem(ctx context.Context, userID, productID int64) (int, error)
	SetQuantity(ctx context.Context, userID, productID int64, quantity int) error
	RemoveItem(ctx context.Context, userID, productID int64) error
	Clear(ctx context.Context, userID int64) error
	List(ctx context.Context, userID int64) ([]models.CartLine, error)
}

// CouponAPI looks up the caller's coupons
type CouponAPI interface {
	Validate(ctx context.Context, code string, userID int64) (*models.Coupon, error)
	MyCoupon(ctx context.Context, userID int64) (*models.Coupon, error)
}

// CheckoutAPI drives payment initiation and reconciliation
type CheckoutAPI interface {
	Initiate(ctx context.Context, userID int64, req service.InitiateRequest) (*service.InitiateResponse, error)
	HandleCallback(ctx context.Context, ref string) (*models.Order, error)
	HandleRedirect(ctx context.Context, ref string) string
	GetOrder(ctx context.Context, userID int64, ref string) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]models.Order, error)
}

// FavoriteAPI manages the caller's favorite products
type FavoriteAPI interface {
	Toggle(ctx context.Context, userID, productID int64) (bool, error)
	List(ctx context.Context, userID int64) ([]models.Product, error)
	MarkFavorites(ctx context.Context, userID int64, products []models.Product) ([]models.Product, error)
}

// AnalyticsAPI builds the admin sales dashboard
type AnalyticsAPI interface {
	Report(ctx context.Context) (*service.AnalyticsReport, error)
}

// UserAPI is the staff-only user administration surface
type UserAPI interface {
	List(ctx context.Context) ([]models.User, error)
	Get(ctx context.Context, id int64) (*models.User, error)
	Delete(ctx context.Context, id int64) error
	UpdateRole(ctx context.Context, id int64, role string) (*models.User, error)
}

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps groups everything the HTTP layer needs
type Deps struct {
	Auth      AuthAPI
	Catalog   CatalogAPI
	Cart      CartAPI
	Coupons   CouponAPI
	Checkout  CheckoutAPI
	Favorites FavoriteAPI
	Users     UserAPI
	Analytics AnalyticsAPI

	Tokens        *auth.TokenManager
	UserLookup    auth.UserLookup
	Readiness     map[string]Pinger
	SecureCookies bool
}

// Handler contains HTTP handlers
type Handler struct {
	auth      AuthAPI
	catalog   CatalogAPI
	cart      CartAPI
	coupons   CouponAPI
	checkout  CheckoutAPI
	favorites FavoriteAPI
	users     UserAPI
	analytics AnalyticsAPI

	tokens        *auth.TokenManager
	userLookup    auth.UserLookup
	readiness     map[string]Pinger
	secureCookies bool
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		auth:          d.Auth,
		catalog:       d.Catalog,
		cart:          d.Cart,
		coupons:       d.Coupons,
		checkout:      d.Checkout,
		favorites:     d.Favorites,
		users:         d.Users,
		analytics:     d.Analytics,
		tokens:        d.Tokens,
		userLookup:    d.UserLookup,
		readiness:     d.Readiness,
		secureCookies: d.SecureCookies,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireAuth := auth.RequireAuth(h.tokens, h.userLookup)
	optionalAuth := auth.OptionalAuth(h.tokens, h.userLookup)
	adminOnly := auth.RequireRole(models.RoleAdmin)
	staffOnly := auth.RequireRole(models.RoleAdmin, models.RoleManager)

	api := router.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/send-otp", h.sendOTP)
		authGroup.POST("/verify-otp", h.verifyOTP)
		authGroup.POST("/forgot-password", h.forgotPassword)
		authGroup.POST("/reset-password", h.resetPassword)
		authGroup.POST("/signup", h.signup)
		authGroup.POST("/login", h.login)
		authGroup.POST("/logout", h.logout)
		authGroup.POST("/refresh-token", h.refreshToken)
		authGroup.GET("/profile", requireAuth, h.profile)
		authGroup.GET("/me", requireAuth, h.me)
		authGroup.PUT("/updateprofile", requireAuth, h.updateProfile)
		authGroup.PUT("/password", requireAuth, h.changePassword)
	}

	products := api.Group("/products")
	{
		products.GET("", requireAuth, h.listProducts)
		products.GET("/featured", optionalAuth, h.featuredProducts)
		products.GET("/category/:category", optionalAuth, h.productsByCategory)
		products.GET("/recommendations", optionalAuth, h.recommendedProducts)
		products.POST("", requireAuth, adminOnly, h.createProduct)
		products.PATCH("/:id", requireAuth, adminOnly, h.toggleFeatured)
		products.DELETE("/:id", requireAuth, adminOnly, h.deleteProduct)
	}

	cart := api.Group("/cart", requireAuth)
	{
		cart.GET("", h.getCart)
		cart.POST("", h.addToCart)
		cart.PUT("/:productId", h.updateQuantity)
		cart.DELETE("", h.removeFromCart)
		cart.DELETE("/all", h.clearCart)
	}

	coupons := api.Group("/coupons", requireAuth)
	{
		coupons.GET("", h.myCoupon)
		coupons.POST("/validate", h.validateCoupon)
	}

	payment := api.Group("/payment")
	{
		payment.POST("/pay", requireAuth, h.pay)
		payment.GET("/callback", h.paymentCallback)
		payment.POST("/callback", h.paymentCallback)
		payment.GET("/verify/:tx_ref", h.verifyPayment)
		payment.GET("/orders", requireAuth, h.listOrders)
		payment.GET("/orders/:tx_ref", requireAuth, h.getOrder)
	}

	favorites := api.Group("/favorites", requireAuth)
	{
		favorites.POST("", h.toggleFavorite)
		favorites.GET("", h.listFavorites)
	}

	api.GET("/analytics", requireAuth, staffOnly, h.analyticsReport)

	admin := api.Group("/admin", requireAuth, staffOnly)
	{
		admin.GET("/users", h.listUsers)
		admin.GET("/users/:id", h.getUser)
		admin.DELETE("/users/:id", h.deleteUser)
		admin.PUT("/users/:id/role", h.updateUserRole)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}

// pathID parses a numeric path parameter, writing a 400 when it is not one
func pathID(c *gin.Context, name, label string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + label + " ID"})
		return 0, false
	}
	return id, true
}

// bindJSON decodes the body, writing a 400 on failure
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}
