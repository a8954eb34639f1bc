package handler

import (
	"encoding/csv"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/labdesk/internal/domain/catalog"
	"github.com/xenking/labdesk/internal/domain/order"
	"github.com/xenking/labdesk/internal/domain/priceimport"
	"github.com/xenking/labdesk/internal/domain/pricing"
)

// writeDomainError converts domain errors to JSON error responses. Anything
// unrecognized is logged and reported as 500 without details.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	}
	writeError(w, r, status, msg)
}

func classify(err error) (int, string) {
	var (
		bad        *badRequest
		sheet      *csv.ParseError
		negative   *pricing.NegativeAmountError
		badKind    *pricing.UnknownKindError
		badPayment *pricing.InvalidPaymentStatusError
		badStatus  *order.InvalidStatusError
		paid       *pricing.PaidBalanceError
		unknown    *order.UnknownItemError
		duplicate  *order.DuplicateItemError
		noLine     *order.LineNotFoundError
		transition *order.TransitionError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, bad.Error()
	case errors.Is(err, pricing.ErrNoPatient),
		errors.Is(err, pricing.ErrNoTests),
		errors.Is(err, priceimport.ErrNoKeyColumn),
		errors.Is(err, priceimport.ErrNoValueColumn),
		errors.As(err, &sheet),
		errors.As(err, &negative),
		errors.As(err, &badKind),
		errors.As(err, &badPayment),
		errors.As(err, &badStatus),
		errors.As(err, &duplicate):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, order.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.As(err, &noLine):
		return http.StatusNotFound, noLine.Error()

	case errors.Is(err, order.ErrConflict):
		return http.StatusConflict, "order was modified concurrently, reload and retry"
	case errors.Is(err, order.ErrIDCollision):
		return http.StatusConflict, "order id collision, retry"

	case errors.As(err, &paid),
		errors.As(err, &unknown),
		errors.As(err, &transition),
		errors.Is(err, order.ErrCancelled),
		errors.Is(err, order.ErrNotOutsourced),
		errors.Is(err, order.ErrAlreadySettled):
		return http.StatusUnprocessableEntity, err.Error()
	}
	return http.StatusInternalServerError, ""
}
