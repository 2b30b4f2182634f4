package resource

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/flatten"
	"github.com/atelierhq/atelier/internal/query"
)

func (c *Controller) create(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if c.hooks.BeforeCreate != nil {
		if err := c.hooks.BeforeCreate(r, doc); err != nil {
			writeError(w, err)
			return
		}
	}

	stored, err := c.col.Insert(r.Context(), doc)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	writeJSON(w, http.StatusCreated, c.sanitize(stored, query.Spec{}))
	if c.hooks.AfterCreate != nil {
		c.hooks.AfterCreate(r, stored)
	}
}

func (c *Controller) list(w http.ResponseWriter, r *http.Request) {
	spec := query.Parse(r.URL.Query())
	docs, err := c.findData(r, spec)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (c *Controller) findData(r *http.Request, spec query.Spec) ([]docstore.Document, error) {
	docs, err := c.col.Find(r.Context(), spec.Filter, spec.Options())
	if err != nil {
		return nil, err
	}
	out := make([]docstore.Document, 0, len(docs))
	for _, doc := range docs {
		doc = c.populate(r.Context(), doc, spec)
		out = append(out, c.sanitize(doc, spec))
	}
	return out, nil
}

func (c *Controller) get(w http.ResponseWriter, r *http.Request) {
	spec := query.Parse(r.URL.Query())
	doc, err := c.col.FindByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	doc = c.populate(r.Context(), doc, spec)
	writeJSON(w, http.StatusOK, c.sanitize(doc, spec))
}

func (c *Controller) count(w http.ResponseWriter, r *http.Request) {
	spec := query.Parse(r.URL.Query())
	n, err := c.col.Count(r.Context(), spec.Filter)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (c *Controller) update(w http.ResponseWriter, r *http.Request) {
	c.updateWithAllowList(w, r, c.allowed)
}

// updateWithAllowList applies the shared update path. A non-empty allow
// list rejects bodies touching any other top-level field.
func (c *Controller) updateWithAllowList(w http.ResponseWriter, r *http.Request, allowed []string) {
	id := mux.Vars(r)["id"]
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(allowed) > 0 {
		for field := range body {
			if !containsField(allowed, field) {
				writeError(w, apperr.New(apperr.CodeInvalidUpdateBody, "Invalid update body", http.StatusBadRequest))
				return
			}
		}
	}
	if c.hooks.BeforeUpdate != nil {
		if err := c.hooks.BeforeUpdate(r, body); err != nil {
			writeError(w, err)
			return
		}
	}

	updated, err := c.col.Update(r.Context(), id, body)
	if err != nil {
		writeError(w, storeError(err))
		return
	}

	if c.i18n != nil {
		c.cascadeLocaleUpdates(r, id, body)
	}
	writeJSON(w, http.StatusOK, c.sanitize(updated, query.Spec{}))
}

// cascadeLocaleUpdates pushes locale-governed field changes from the
// default record to every variant linked to it.
func (c *Controller) cascadeLocaleUpdates(r *http.Request, id string, body docstore.Document) {
	localeUpdates := flatten.FilterKeys(body, c.i18n)
	if len(localeUpdates) == 0 {
		return
	}
	entries, err := c.col.Find(r.Context(), docstore.Filter{}.Where("i18n.default", id), docstore.FindOptions{})
	if err != nil {
		return
	}
	for _, entry := range entries {
		merged := flatten.Merge(entry, localeUpdates)
		_, _ = c.col.Update(r.Context(), entry.ID(), docstore.Document(merged))
	}
}

func (c *Controller) remove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, err := c.col.Delete(r.Context(), id)
	if err != nil {
		writeError(w, storeError(err))
		return
	}

	// Deleting a default-locale record takes its variants with it.
	if c.i18n != nil {
		if _, hasLocale := doc["i18n"]; !hasLocale {
			_, _ = c.col.DeleteMany(r.Context(), docstore.Filter{}.Where("i18n.default", id))
		}
	}
	writeJSON(w, http.StatusOK, doc)
}

func (c *Controller) export(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	values.Set(query.KeyClear, "true")
	spec := query.Parse(values)

	docs, err := c.findData(r, spec)
	if err != nil {
		writeError(w, storeError(err))
		return
	}

	csvData, err := toCSV(docs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"filename": c.name + "-" + time.Now().UTC().Format(time.RFC3339) + ".csv",
		"file":     csvData,
	})
}

func containsField(list []string, field string) bool {
	for _, item := range list {
		if item == field {
			return true
		}
	}
	return false
}
