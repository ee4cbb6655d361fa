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

// UserCommander defines the write-side operations used by UserHandler.
type UserCommander interface {
	CreateUser(ctx context.Context, cmd cqrs.CreateUserCommand) (*models.User, bool, error)
}

// UserQuerier defines the read-side operations used by UserHandler.
type UserQuerier interface {
	ListUsers(ctx context.Context, q cqrs.ListUsersQuery) ([]models.User, error)
}

// UserHandler routes requests to the command or query service as appropriate.
type UserHandler struct {
	commands UserCommander
	queries  UserQuerier
}

type CreateUserRequest struct {
	FirstName  string `json:"firstName" validate:"required"`
	LastName   string `json:"lastName" validate:"required"`
	Email      string `json:"email" validate:"required"`
	Department string `json:"department"`
}

func NewUserHandler(commands UserCommander, queries UserQuerier) *UserHandler {
	return &UserHandler{commands: commands, queries: queries}
}

func (h *UserHandler) Register(router gin.IRouter) {
	users := router.Group("/api/users")
	users.GET("", h.ListUsers)
	users.POST("/create", h.CreateUser)
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, "firstName, lastName, and email are required", validationErrors)
		return
	}

	user, published, err := h.commands.CreateUser(c.Request.Context(), cqrs.CreateUserCommand{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		Department: req.Department,
	})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":          true,
		"message":          "User created successfully",
		"data":             user,
		"messagePublished": published,
		"timestamp":        utils.Now(),
	})
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.queries.ListUsers(c.Request.Context(), cqrs.ListUsersQuery{})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Users retrieved successfully",
		"count":     len(users),
		"data":      users,
		"timestamp": utils.Now(),
	})
}
