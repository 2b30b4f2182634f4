package resource

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/query"
)

// defaultIDOf resolves the default-locale record id for any record: a
// variant points at its default through i18n.default, a default record
// is its own anchor.
func defaultIDOf(doc docstore.Document) string {
	if i18n, ok := doc["i18n"].(map[string]any); ok {
		if def, ok := i18n["default"].(string); ok && def != "" {
			return def
		}
	}
	return doc.ID()
}

// localeOf returns the locale tag of a variant, empty for defaults.
func localeOf(doc docstore.Document) string {
	if i18n, ok := doc["i18n"].(map[string]any); ok {
		tag, _ := i18n["locale"].(string)
		return tag
	}
	return ""
}

// getLocales lists the sibling records sharing one default id,
// projected down to id and locale tag.
func (c *Controller) getLocales(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	current, err := c.col.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	defaultID := defaultIDOf(current)

	filter := docstore.Filter{
		Or: []docstore.Filter{
			docstore.Filter{}.Where("id", defaultID),
			docstore.Filter{}.Where("i18n.default", defaultID),
		},
	}
	siblings, err := c.col.Find(r.Context(), filter, docstore.FindOptions{})
	if err != nil {
		writeError(w, storeError(err))
		return
	}

	out := make([]map[string]any, 0, len(siblings))
	for _, sibling := range siblings {
		entry := map[string]any{"id": sibling.ID()}
		if tag := localeOf(sibling); tag != "" {
			entry["i18n"] = map[string]any{"locale": tag}
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// getLocalesFields returns the default record stripped of its
// locale-governed fields, identity, and timestamps. Clients use it to
// prefill the non-translatable part of a new variant.
func (c *Controller) getLocalesFields(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	current, err := c.col.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, storeError(err))
		return
	}

	doc, err := c.col.FindByID(r.Context(), defaultIDOf(current))
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	spec := query.Parse(r.URL.Query())
	spec.Clear = true
	doc = c.populate(r.Context(), doc, spec)
	out := c.sanitize(doc, query.Spec{Clear: true, Populate: spec.Populate})
	for _, field := range c.i18n {
		delete(out, field)
	}
	delete(out, "createdAt")
	delete(out, "updatedAt")
	writeJSON(w, http.StatusOK, out)
}

// singletonFilter selects the one record for a locale: the default
// record when no locale is requested, the matching variant otherwise.
func singletonFilter(locale string) docstore.Filter {
	if locale == "" {
		return docstore.Filter{}.WhereOp("i18n", docstore.OpNotExists, nil)
	}
	return docstore.Filter{}.Where("i18n.locale", locale)
}

// getSingle serves the singleton resource, creating the entry on first
// access. A locale variant can only be created once a default exists.
func (c *Controller) getSingle(w http.ResponseWriter, r *http.Request) {
	spec := query.Parse(r.URL.Query())

	doc, err := c.col.FindOne(r.Context(), singletonFilter(spec.Locale))
	if err == nil {
		doc = c.populate(r.Context(), doc, spec)
		writeJSON(w, http.StatusOK, c.sanitize(doc, spec))
		return
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		writeError(w, storeError(err))
		return
	}

	entry := docstore.Document{}
	if spec.Locale != "" {
		defaultEntry, err := c.col.FindOne(r.Context(), singletonFilter(""))
		if err != nil {
			writeError(w, apperr.New("missing_default_locale", "Missing default locale entry", http.StatusNotFound))
			return
		}
		entry["i18n"] = map[string]any{
			"default": defaultEntry.ID(),
			"locale":  spec.Locale,
		}
	}
	stored, err := c.col.Insert(r.Context(), entry)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, c.sanitize(stored, spec))
}

// updateSingle updates the singleton record for the requested locale.
func (c *Controller) updateSingle(w http.ResponseWriter, r *http.Request) {
	spec := query.Parse(r.URL.Query())
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	doc, err := c.col.FindOne(r.Context(), singletonFilter(spec.Locale))
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	updated, err := c.col.Update(r.Context(), doc.ID(), body)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, c.sanitize(updated, query.Spec{}))
}
