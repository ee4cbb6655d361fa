package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eaglebank/orderflow/shared/cqrs"
	"github.com/eaglebank/orderflow/shared/middleware"
	"github.com/eaglebank/orderflow/shared/models"
	"github.com/eaglebank/orderflow/shared/utils"
)

// OrderCommander defines the write-side operations used by OrderHandler.
type OrderCommander interface {
	CreateOrder(ctx context.Context, cmd cqrs.CreateOrderCommand) (*models.Order, bool, error)
}

// OrderQuerier defines the read-side operations used by OrderHandler.
type OrderQuerier interface {
	ListOrders(ctx context.Context, q cqrs.ListOrdersQuery) ([]models.Order, error)
	ListProcessedUserEvents(ctx context.Context, q cqrs.ListProcessedUserEventsQuery) ([]models.ProcessedEventRecord, error)
}

type OrderHandler struct {
	commands OrderCommander
	queries  OrderQuerier
}

// CreateOrderRequest treats zero quantity or price as missing.
type CreateOrderRequest struct {
	UserID      int     `json:"userId" validate:"required"`
	ProductName string  `json:"productName" validate:"required"`
	Quantity    int     `json:"quantity" validate:"required"`
	Price       float64 `json:"price" validate:"required"`
}

func NewOrderHandler(commands OrderCommander, queries OrderQuerier) *OrderHandler {
	return &OrderHandler{commands: commands, queries: queries}
}

func (h *OrderHandler) Register(router gin.IRouter) {
	orders := router.Group("/api/orders")
	orders.GET("", h.ListOrders)
	orders.POST("/create", h.CreateOrder)
	orders.GET("/processed-users", h.ListProcessedUserEvents)
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, "userId, productName, quantity, and price are required", validationErrors)
		return
	}

	order, published, err := h.commands.CreateOrder(c.Request.Context(), cqrs.CreateOrderCommand{
		UserID:      req.UserID,
		ProductName: req.ProductName,
		Quantity:    req.Quantity,
		Price:       req.Price,
	})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":          true,
		"message":          "Order created successfully",
		"data":             order,
		"messagePublished": published,
		"timestamp":        utils.Now(),
	})
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	orders, err := h.queries.ListOrders(c.Request.Context(), cqrs.ListOrdersQuery{})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Orders retrieved successfully",
		"count":     len(orders),
		"data":      orders,
		"timestamp": utils.Now(),
	})
}

func (h *OrderHandler) ListProcessedUserEvents(c *gin.Context) {
	records, err := h.queries.ListProcessedUserEvents(c.Request.Context(), cqrs.ListProcessedUserEventsQuery{})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Processed user events retrieved successfully",
		"count":     len(records),
		"data":      records,
		"timestamp": utils.Now(),
	})
}
