package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/labdesk/internal/domain/pricing"
	"github.com/xenking/labdesk/internal/domain/report"
)

const dateLayout = "2006-01-02"

// ProfitReport computes profit by test or by order.
// Query: mode=by-test|by-order, from, to (RFC 3339 or YYYY-MM-DD).
func (h *Handler) ProfitReport(w http.ResponseWriter, r *http.Request) {
	mode, err := pricing.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := parsePeriod(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	rep, err := h.reports.Profit(r.Context(), p, mode)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("mode")
		e.Str(string(rep.Mode))
		e.FieldStart("revenue")
		encodeDecimal(e, rep.Revenue)
		e.FieldStart("cost")
		encodeDecimal(e, rep.Cost)
		e.FieldStart("profit")
		encodeDecimal(e, rep.Profit)
		e.FieldStart("marginPercent")
		e.Int64(pricing.MarginPercent(rep.Profit, rep.Revenue))
		e.FieldStart("backfilled")
		e.Int(rep.Backfilled)
		e.FieldStart("unresolved")
		encodeStrings(e, rep.Unresolved)

		switch rep.Mode {
		case pricing.ModeByOrder:
			e.FieldStart("orders")
			e.ArrStart()
			for _, o := range rep.ByOrder {
				e.ObjStart()
				e.FieldStart("orderId")
				e.Str(o.OrderID)
				e.FieldStart("patientName")
				e.Str(o.PatientName)
				e.FieldStart("revenue")
				encodeDecimal(e, o.Revenue)
				e.FieldStart("cost")
				encodeDecimal(e, o.Cost)
				e.FieldStart("profit")
				encodeDecimal(e, o.Profit)
				e.FieldStart("marginPercent")
				e.Int64(o.MarginPercent)
				e.ObjEnd()
			}
			e.ArrEnd()
		default:
			e.FieldStart("tests")
			e.ArrStart()
			for _, t := range rep.ByTest {
				e.ObjStart()
				e.FieldStart("key")
				e.Str(t.Key)
				e.FieldStart("name")
				e.Str(t.Name)
				e.FieldStart("count")
				e.Int(t.Count)
				e.FieldStart("revenue")
				encodeDecimal(e, t.Revenue)
				e.FieldStart("cost")
				encodeDecimal(e, t.Cost)
				e.FieldStart("profit")
				encodeDecimal(e, t.Profit)
				e.ObjEnd()
			}
			e.ArrEnd()
		}
		e.ObjEnd()
	})
}

// Dashboard returns the approximate gross-profit tile.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, err := parsePeriod(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	est, err := h.reports.Dashboard(r.Context(), p)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orders")
		e.Int(est.Orders)
		e.FieldStart("revenue")
		encodeDecimal(e, est.Revenue)
		e.FieldStart("cost")
		encodeDecimal(e, est.Cost)
		e.FieldStart("profit")
		encodeDecimal(e, est.Profit)
		e.FieldStart("estimatedLines")
		e.Int(est.Estimated)
		e.FieldStart("approximate")
		e.Bool(est.Approximate)
		e.ObjEnd()
	})
}

// parsePeriod reads the from/to query parameters. A bare date in "to" covers
// the whole day.
func parsePeriod(r *http.Request) (report.Period, error) {
	var p report.Period
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, _, err := parseTime(v)
		if err != nil {
			return p, &badRequest{msg: "invalid from", err: err}
		}
		p.From = t
	}
	if v := q.Get("to"); v != "" {
		t, dateOnly, err := parseTime(v)
		if err != nil {
			return p, &badRequest{msg: "invalid to", err: err}
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		p.To = t
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.To.Before(p.From) {
		return p, &badRequest{msg: "to is before from"}
	}
	return p, nil
}

func parseTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}
