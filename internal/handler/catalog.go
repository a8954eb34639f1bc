package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/labdesk/internal/domain/catalog"
)

// ListTests returns the current test catalog.
func (h *Handler) ListTests(w http.ResponseWriter, r *http.Request) {
	snap, err := h.catalog.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, r, errors.Wrap(err, "load catalog"))
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, t := range snap.Tests() {
			encodeTest(e, t)
		}
		e.ArrEnd()
	})
}

// ListPackages returns the current packages.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	snap, err := h.catalog.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, r, errors.Wrap(err, "load catalog"))
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range snap.Packages() {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(p.ID)
			e.FieldStart("name")
			e.Str(p.Name)
			e.FieldStart("price")
			encodeDecimal(e, p.Price)
			e.FieldStart("tests")
			encodeStrings(e, p.TestIDs)
			if p.Description != "" {
				e.FieldStart("description")
				e.Str(p.Description)
			}
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

// ImportPrices applies a CSV price sheet sent as the request body. The body
// may be gzip-compressed. ?dry_run=true reports without writing.
func (h *Handler) ImportPrices(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "dry_run must be a boolean")
			return
		}
		dryRun = b
	}

	body := http.MaxBytesReader(w, r.Body, h.maxImportBytes)
	rep, err := h.importer.Import(r.Context(), body, dryRun)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "price sheet too large")
			return
		}
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("rows")
		e.Int(rep.Rows)
		e.FieldStart("matched")
		e.Int(rep.Matched)
		e.FieldStart("updated")
		e.Int(rep.Updated)
		e.FieldStart("failed")
		e.Int(rep.Failed)
		e.FieldStart("dryRun")
		e.Bool(rep.DryRun)
		e.FieldStart("failures")
		e.ArrStart()
		for _, f := range rep.Failures {
			e.ObjStart()
			e.FieldStart("line")
			e.Int(f.Line)
			e.FieldStart("ref")
			e.Str(f.Ref)
			e.FieldStart("reason")
			e.Str(f.Reason)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// Dedupe removes duplicated tests and reports what was kept.
func (h *Handler) Dedupe(w http.ResponseWriter, r *http.Request) {
	groups, err := h.dedupe(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("groups")
		e.ArrStart()
		for _, g := range groups {
			e.ObjStart()
			e.FieldStart("key")
			e.Str(g.Key)
			e.FieldStart("kept")
			e.Str(g.Keep.ID)
			e.FieldStart("deleted")
			e.ArrStart()
			for _, t := range g.Discard {
				e.Str(t.ID)
			}
			e.ArrEnd()
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func encodeTest(e *jx.Encoder, t catalog.Test) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(t.ID)
	e.FieldStart("code")
	e.Str(t.Code)
	e.FieldStart("name")
	e.Str(t.Name)
	e.FieldStart("category")
	e.Str(t.Category)
	e.FieldStart("price")
	encodeDecimal(e, t.Price)
	e.FieldStart("l2lPrice")
	encodeDecimal(e, t.L2LPrice)
	e.ObjEnd()
}
