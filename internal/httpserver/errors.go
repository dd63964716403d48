package httpserver

import (
	"errors"
	"net/http"

	"smartshop/internal/domain"
	accountsvc "smartshop/internal/service/account"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID string `json:"productId,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

// statusFor maps the service error set onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, accountsvc.ErrInvalidCredentials),
		errors.Is(err, accountsvc.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, domain.ErrInvalidProduct):
		return http.StatusBadRequest, "invalid_product"
	case errors.Is(err, accountsvc.ErrInvalidSignup):
		return http.StatusBadRequest, "invalid_signup"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, accountsvc.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, "item_not_found"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrSync):
		return http.StatusBadGateway, "sync_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	resp := errorResponse{Error: code, Message: err.Error()}
	if status == http.StatusInternalServerError {
		resp.Message = "internal error"
	}
	var stock *domain.InsufficientStockError
	if errors.As(err, &stock) {
		resp.ProductID = stock.ProductID
		resp.Available = &stock.Available
		resp.Requested = &stock.Requested
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: msg})
}
