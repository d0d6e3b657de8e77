package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"luna-dine/internal/core"
	"luna-dine/internal/order"
	"luna-dine/internal/order/domain"
)

const sessionHeader = "X-Session-ID"

type addToCartRequest struct {
	BranchID   int64  `json:"branch_id"`
	MenuItemID int64  `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
	Note       string `json:"note"`
}

type placeOrderRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`
	OrderType     string `json:"order_type"`
	TableID       *int64 `json:"table_id"`
	Notes         string `json:"notes"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
	UserID *int64 `json:"user_id"`
}

type orderResponse struct {
	OrderNumber string  `json:"order_number"`
	Status      string  `json:"status"`
	Subtotal    float64 `json:"subtotal"`
	Tax         float64 `json:"tax"`
	DeliveryFee float64 `json:"delivery_fee"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		OrderNumber: o.OrderNumber,
		Status:      string(o.Status),
		Subtotal:    o.Subtotal,
		Tax:         o.Tax,
		DeliveryFee: o.DeliveryFee,
		Discount:    o.Discount,
		Total:       o.Total,
	}
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.session(w, r)
	if !ok {
		return
	}
	c, err := s.workflow.Cart(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.session(w, r)
	if !ok {
		return
	}

	var req addToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	err := s.workflow.AddToCart(r.Context(), sessionID, req.BranchID, req.MenuItemID, req.Quantity, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.session(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cart line index"})
		return
	}

	if err := s.workflow.RemoveFromCart(r.Context(), sessionID, index); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.workflow.ClearCart(r.Context(), sessionID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.session(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	o, err := s.workflow.PlaceOrder(r.Context(), sessionID, order.PlaceOrderInfo{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		Type:          domain.OrderType(req.OrderType),
		TableID:       req.TableID,
		Notes:         req.Notes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.workflow.GetOrder(r.Context(), r.PathValue("number"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	o, err := s.workflow.UpdateStatus(r.Context(), orderID, domain.Status(req.Status), req.Note, req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleEnableExtension(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Enable(r.Context(), r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisableExtension(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Disable(r.Context(), r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + sessionHeader + " header"})
		return "", false
	}
	return sessionID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors onto HTTP statuses. Storage failures stay
// generic; internals are already logged at the service layer.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, core.ErrOrderNotFound),
		errors.Is(err, core.ErrBranchNotFound),
		errors.Is(err, core.ErrUnknownExtension),
		errors.Is(err, core.ErrCartLineNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidQuantity),
		errors.Is(err, core.ErrEmptyCart):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrItemUnavailable),
		errors.Is(err, core.ErrForbiddenTransition),
		errors.Is(err, core.ErrTableUnavailable),
		errors.Is(err, core.ErrUnmetDependency),
		errors.Is(err, core.ErrDependentsStillEnabled):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": core.ErrStorage.Error()})
	}
}
