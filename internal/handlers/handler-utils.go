package handlers

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/dtos"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/middleware"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type HandlerFunc func(w http.ResponseWriter, r *http.Request) *app_error.AppError

func WrapHandler(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			reqID := middleware.RequestID(r.Context())
			event := log.Warn()
			if err.Code >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.Err(err).Str("path", r.URL.Path).Msg(fmt.Sprintf("error occur, request id: %s", reqID))
			writeJSON(w, err.Code, dtos.Response[any]{
				Message: "Error occur",
				Errors: &dtos.ErrorResponse{
					Code:    err.Code,
					Kind:    err.KindName(),
					Field:   err.Field,
					Message: err.Message,
				},
				RequestID: reqID,
			})
		}
	}
}

func CreateResponse[T any](message string, data T, requestId string) dtos.Response[T] {
	return dtos.Response[T]{
		Message:   message,
		Data:      data,
		RequestID: requestId,
	}
}

// Respond writes data wrapped in the standard envelope.
func Respond[T any](w http.ResponseWriter, r *http.Request, status int, message string, data T) {
	writeJSON(w, status, CreateResponse(message, data, middleware.RequestID(r.Context())))
}

// DecodeBody reads a JSON body into req and validates it.
func DecodeBody(r *http.Request, validate *validator.Validate, req any) *app_error.AppError {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return app_error.NewAppError(http.StatusBadRequest, "Invalid JSON", "body")
	}
	if err := validate.Struct(req); err != nil {
		return app_error.NewAppError(http.StatusBadRequest, fmt.Sprintf("Invalid fields: %v", err), "validation")
	}
	return nil
}

// PathParam returns the unescaped URL parameter. Matrix ids carry
// characters like '!' and ':' that clients may percent-encode.
func PathParam(r *http.Request, name string) (string, *app_error.AppError) {
	raw := chi.URLParam(r, name)
	value, err := url.PathUnescape(raw)
	if err != nil || value == "" {
		return "", app_error.Invalid(fmt.Sprintf("invalid %s", name), name)
	}
	return value, nil
}
