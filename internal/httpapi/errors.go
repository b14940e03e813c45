package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// Коды ошибок в теле ответа, помимо domain.ErrorKind.
const (
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeBadRequest   = "bad_request"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorPayload{Code: code, Message: message}})
}

// writeDomainError отображает вид доменной ошибки на HTTP-статус.
// Текст внутренних ошибок наружу не отдаётся.
func writeDomainError(w http.ResponseWriter, logger *log.Entry, err error) {
	kind := domain.KindOf(err)

	switch kind {
	case domain.KindNotFound:
		writeErrorMessage(w, http.StatusNotFound, string(kind), err.Error())
	case domain.KindValidation:
		writeErrorMessage(w, http.StatusBadRequest, string(kind), err.Error())
	case domain.KindConflict:
		if errors.Is(err, domain.ErrNotOwner) {
			writeErrorMessage(w, http.StatusForbidden, codeForbidden, err.Error())
			return
		}
		writeErrorMessage(w, http.StatusConflict, string(kind), err.Error())
	default:
		logger.WithError(err).Error("request failed")
		writeErrorMessage(w, http.StatusInternalServerError, string(domain.KindInternal), "internal error")
	}
}
