package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	view, err := s.carts.GetCart(r.Context(), id.UserID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(id.UserID, view))
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := identityFrom(r.Context())
	item, err := s.carts.AddItem(r.Context(), domain.AddItemInput{
		UserID:    id.UserID,
		UserTier:  id.Tier,
		VariantID: req.VariantID,
		ProductID: req.ProductID,
		PromoCode: req.PromoCode,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(item))
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := identityFrom(r.Context())
	item, err := s.carts.UpdateItem(r.Context(), chi.URLParam(r, "itemID"), req.Quantity, id.UserID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(item))
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if err := s.carts.RemoveItem(r.Context(), chi.URLParam(r, "itemID"), id.UserID); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	result, err := s.carts.Checkout(r.Context(), id.UserID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		Success: true,
		OrderID: result.OrderID,
		Total:   money(result.Total),
	})
}

// getPrice не требует x-user-id: tier берётся из заголовка или query userTier.
func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	quantity := 1
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeErrorMessage(w, http.StatusBadRequest, string(domain.KindValidation), domain.ErrQuantityInvalid.Error())
			return
		}
		quantity = parsed
	}

	tierRaw := r.Header.Get(HeaderUserTier)
	if tierRaw == "" {
		tierRaw = r.URL.Query().Get("userTier")
	}

	quote, err := s.quoter.ComputePrice(r.Context(), domain.PriceRequest{
		ProductID: chi.URLParam(r, "productID"),
		VariantID: chi.URLParam(r, "variantID"),
		Quantity:  quantity,
		UserTier:  tierOrDefault(tierRaw),
		PromoCode: r.URL.Query().Get("promoCode"),
	})
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuote(quote))
}

// decode читает JSON-тело и валидирует его; при ошибке пишет 400 и возвращает false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(dest); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, codeBadRequest, "invalid json body")
		return false
	}
	if err := s.validate.Struct(dest); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, string(domain.KindValidation), err.Error())
		return false
	}
	return true
}
