package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fusionaura/storefront-orders/internal/inventory"
	"github.com/fusionaura/storefront-orders/internal/orders"
	"github.com/fusionaura/storefront-orders/internal/redisx"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest = errors.New("bad request")
	validate      = validator.New()
)

type errorBody struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return fmt.Errorf("%w: field %s failed %s", errBadRequest, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, orders.ErrInvalidInput),
		errors.Is(err, orders.ErrInvalidAmount),
		errors.Is(err, orders.ErrProductNotFound),
		errors.Is(err, inventory.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, inventory.ErrStockNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrOrderNotEditable),
		errors.Is(err, orders.ErrOrderNotArchivable),
		errors.Is(err, redisx.ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, orders.ErrTransactionConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err; system failures are logged and their detail hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	body := errorBody{Error: err.Error()}

	var stockErr *orders.StockError
	if errors.As(err, &stockErr) {
		available := stockErr.Available
		body.ProductID = stockErr.ProductID
		body.Requested = stockErr.Requested
		body.Available = &available
	}

	switch code {
	case http.StatusInternalServerError:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		body = errorBody{Error: "internal error"}
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, body)
}

// pageParams reads page and limit; malformed values fall back to engine defaults.
func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}
