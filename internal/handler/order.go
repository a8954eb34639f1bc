package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/labdesk/internal/domain/order"
	"github.com/xenking/labdesk/internal/domain/pricing"
)

const maxOrderBody = 1 << 20

// QuoteOrder prices a draft without storing it.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlaceOrder(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	q, err := h.orders.Quote(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		encodeQuoteFields(e, *q)
		e.FieldStart("valid")
		verr := q.Validate()
		e.Bool(verr == nil)
		if verr != nil {
			e.FieldStart("problem")
			e.Str(verr.Error())
		}
		e.ObjEnd()
	})
}

// CreateOrder prices, validates and stores a new order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlaceOrder(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	o, err := h.orders.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeOrder(w, r, http.StatusCreated, o)
}

// GetOrder returns a stored order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOrder(w, r, http.StatusOK, o)
}

// EditOrder re-prices an existing order.
func (h *Handler) EditOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlaceOrder(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	o, err := h.orders.Edit(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOrder(w, r, http.StatusOK, o)
}

// UpdateStatus moves an order along its lifecycle. Body: {"status": "..."}.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var status string
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		v, err := d.Str()
		status = v
		return err
	}); err != nil {
		writeDomainError(w, r, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), order.Status(status))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOrder(w, r, http.StatusOK, o)
}

// AssignPartner sets the outsourcing lab of a line. Body: {"partner": "..."}.
func (h *Handler) AssignPartner(w http.ResponseWriter, r *http.Request) {
	var partner string
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "partner" {
			return d.Skip()
		}
		v, err := d.Str()
		partner = v
		return err
	}); err != nil {
		writeDomainError(w, r, err)
		return
	}
	o, err := h.orders.AssignPartner(r.Context(), r.PathValue("id"), r.PathValue("line"), partner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOrder(w, r, http.StatusOK, o)
}

// SettleLine marks an outsourced line as settled.
func (h *Handler) SettleLine(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Settle(r.Context(), r.PathValue("id"), r.PathValue("line"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOrder(w, r, http.StatusOK, o)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOrderBody))
	if err != nil {
		return nil, invalidBody(err)
	}
	return body, nil
}

func decodeObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		return invalidBody(err)
	}
	return nil
}

// decodePlaceOrder reads
//
//	{"patientId", "patientName", "referralId",
//	 "items": [{"kind": "test"|"package", "ref": "..."}],
//	 "homeCollectionCharge", "discount", "advancePaid",
//	 "paymentStatus", "settleInFull"}
func decodePlaceOrder(w http.ResponseWriter, r *http.Request) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "patientId":
			req.PatientID, err = d.Str()
		case "patientName":
			req.PatientName, err = d.Str()
		case "referralId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.ReferralID, err = d.Str()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				sel, err := decodeSelection(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, sel)
				return nil
			})
		case "homeCollectionCharge":
			req.HomeCollectionCharge, err = decodeDecimal(d)
		case "discount":
			req.Discount, err = decodeDecimal(d)
		case "advancePaid":
			req.AdvancePaid, err = decodeDecimal(d)
		case "paymentStatus":
			var s string
			s, err = d.Str()
			req.PaymentStatus = pricing.PaymentStatus(s)
		case "settleInFull":
			req.SettleInFull, err = d.Bool()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return req, err
}

// decodeSelection accepts {"kind": "...", "ref": "..."} or a bare string,
// which selects a test by id or code.
func decodeSelection(d *jx.Decoder) (order.Selection, error) {
	if d.Next() == jx.String {
		ref, err := d.Str()
		return order.Selection{Kind: pricing.KindTest, Ref: ref}, err
	}
	var sel order.Selection
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "kind":
			k, err := d.Str()
			sel.Kind = pricing.Kind(k)
			return err
		case "ref", "id", "code":
			ref, err := d.Str()
			sel.Ref = ref
			return err
		default:
			return d.Skip()
		}
	})
	return sel, err
}

func writeOrder(w http.ResponseWriter, r *http.Request, status int, o *order.Order) {
	writeJSON(w, r, status, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("patientId")
	e.Str(o.PatientID)
	e.FieldStart("patientName")
	e.Str(o.PatientName)
	e.FieldStart("referralId")
	if o.ReferralID == "" {
		e.Null()
	} else {
		e.Str(o.ReferralID)
	}
	encodeQuoteFields(e, pricing.Quote{
		Lines:                o.Lines,
		Subtotal:             o.Subtotal,
		HomeCollectionCharge: o.HomeCollectionCharge,
		Discount:             o.Discount,
		Total:                o.TotalAmount,
		AdvancePaid:          o.AdvancePaid,
		BalanceDue:           o.BalanceDue,
		PaymentStatus:        o.PaymentStatus,
	})
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("expectedReportAt")
	encodeTime(e, o.ExpectedReportAt)
	e.FieldStart("createdBy")
	e.Str(o.CreatedBy)
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, o.UpdatedAt)
	e.FieldStart("version")
	e.Int64(o.Version)
	e.ObjEnd()
}

// encodeQuoteFields writes the monetary fields shared by quotes and orders
// into the current object.
func encodeQuoteFields(e *jx.Encoder, q pricing.Quote) {
	e.FieldStart("tests")
	e.ArrStart()
	for _, li := range q.Lines {
		encodeLineItem(e, li)
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	encodeDecimal(e, q.Subtotal)
	e.FieldStart("homeCollectionCharge")
	encodeDecimal(e, q.HomeCollectionCharge)
	e.FieldStart("discount")
	encodeDecimal(e, q.Discount)
	e.FieldStart("totalAmount")
	encodeDecimal(e, q.Total)
	e.FieldStart("advancePaid")
	encodeDecimal(e, q.AdvancePaid)
	e.FieldStart("balanceDue")
	encodeDecimal(e, q.BalanceDue)
	e.FieldStart("paymentStatus")
	e.Str(string(q.PaymentStatus))
}

func encodeLineItem(e *jx.Encoder, li pricing.LineItem) {
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(string(li.Kind))
	e.FieldStart("id")
	e.Str(li.ID)
	if li.Code != "" {
		e.FieldStart("code")
		e.Str(li.Code)
	}
	e.FieldStart("name")
	e.Str(li.Name)
	if li.Category != "" {
		e.FieldStart("category")
		e.Str(li.Category)
	}
	e.FieldStart("price")
	encodeDecimal(e, li.Price)
	e.FieldStart("originalPrice")
	encodeDecimal(e, li.OriginalPrice)
	e.FieldStart("l2lPrice")
	encodeNullDecimal(e, li.L2LPrice)
	if len(li.TestIDs) > 0 {
		e.FieldStart("tests")
		encodeStrings(e, li.TestIDs)
	}
	if li.Partner != "" {
		e.FieldStart("partner")
		e.Str(li.Partner)
		e.FieldStart("settled")
		e.Bool(li.Settled)
	}
	e.ObjEnd()
}
