package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/handlers"
	"github.com/toyforge/storefront/internal/middleware"
	"go.uber.org/zap"
)

var defaultCORSOrigins = []string{"http://localhost:5173"}

// corsMiddleware allows the storefront and admin frontends to call the API.
func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func SetupRouter(h *handlers.Handlers) (*gin.Engine, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		h.Logger.Error("panic recovered", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}))
	router.Use(middleware.RequestLogger(h.Logger))
	router.Use(corsMiddleware(h.Config.Server.CORSOrigins))

	router.Static("/uploads", h.Config.Server.UploadDir)

	v1 := router.Group("/v1")
	{
		// --- Ping Route (Public) ---
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong!"})
		})

		// --- Auth Routes (Public) ---
		v1.POST("/auth/register", h.Register)
		v1.POST("/auth/login", h.Login)
		v1.POST("/auth/forgot-password", h.ForgotPassword)
		v1.POST("/auth/reset-password", h.ResetPassword)

		// --- Public Catalogue ---
		v1.GET("/products", h.ListProducts)
		v1.GET("/products/:slug", h.GetProductBySlug)
		v1.GET("/categories", h.GetAllCategories)
		v1.GET("/brands", h.GetAllBrands)
		v1.GET("/showcases", h.GetShowcases)

		// --- Payment Gateway Callbacks (signed, no JWT) ---
		v1.POST("/payments/razorpay/webhook", h.RazorpayWebhook)

		// --- Protected Routes (Login Required) ---
		auth := v1.Group("/")
		auth.Use(middleware.AuthMiddleware(h.Tokens))
		{
			auth.GET("/me", h.GetMe)

			// Cart
			auth.GET("/cart", h.GetCart)
			auth.DELETE("/cart", h.ClearCart)
			auth.POST("/cart/items", h.AddToCart)
			auth.PUT("/cart/items/:variant_id", h.UpdateCartItem)
			auth.DELETE("/cart/items/:variant_id", h.DeleteCartItem)

			// Address book
			auth.GET("/addresses", h.ListAddresses)
			auth.POST("/addresses", h.CreateAddress)
			auth.PUT("/addresses/:id", h.UpdateAddress)
			auth.DELETE("/addresses/:id", h.DeleteAddress)
			auth.PATCH("/addresses/:id/default", h.SetDefaultAddress)

			// Checkout
			auth.POST("/coupons/validate", h.ValidateCoupon)
			auth.POST("/checkout/quote", h.Quote)
			auth.POST("/checkout/orders", h.CreateOrder)
			auth.POST("/checkout/verify", h.VerifyPayment)
			auth.POST("/checkout/payment-failed", h.PaymentFailed)

			// Orders
			auth.GET("/orders", h.GetMyOrders)
			auth.GET("/orders/:id", h.GetOrderDetails)
			auth.POST("/orders/:id/cancel", h.CancelMyOrder)
			auth.POST("/orders/:id/retry-payment", h.RetryPayment)

			// --- Admin Routes ---
			admin := auth.Group("/admin")
			admin.Use(middleware.AdminMiddleware(h.DB, h.Logger))
			{
				// Catalogue
				admin.POST("/products", h.CreateProduct)
				admin.PUT("/products/:id", h.UpdateProduct)
				admin.DELETE("/products/:id", h.DeleteProduct)
				admin.POST("/products/:id/variants", h.AddVariant)
				admin.PUT("/variants/:id", h.UpdateVariant)
				admin.POST("/uploads", h.UploadImage)
				admin.POST("/categories", h.CreateCategory)
				admin.DELETE("/categories/:id", h.DeleteCategory)

				// Coupons
				admin.GET("/coupons", h.ListCoupons)
				admin.POST("/coupons", h.CreateCoupon)
				admin.PUT("/coupons/:id", h.UpdateCoupon)
				admin.DELETE("/coupons/:id", h.DeleteCoupon)

				// Showcases
				admin.GET("/showcases", h.ListShowcasesAdmin)
				admin.POST("/showcases", h.CreateShowcase)
				admin.PUT("/showcases/:id", h.UpdateShowcase)
				admin.DELETE("/showcases/:id", h.DeleteShowcase)

				// Orders
				admin.GET("/orders", h.ListOrders)
				admin.PATCH("/orders/:id/status", h.UpdateOrderStatus)

				// Customers
				admin.GET("/users", h.ListUsers)
				admin.PATCH("/users/:id/status", h.UpdateUserStatus)

				// Dashboard
				admin.GET("/dashboard/summary", h.GetDashboardSummary)
				admin.GET("/dashboard/sales", h.GetSalesChart)
				admin.GET("/dashboard/top-products", h.GetTopProducts)
				admin.GET("/dashboard/order-status", h.GetOrderStatusBreakdown)
				admin.GET("/dashboard/low-stock", h.GetLowStock)

				// Assistant
				admin.POST("/assistant", h.AskAssistant)
			}
		}
	}

	return router, nil
}
