// Package resource turns a declarative registration into a full REST
// resource: create, list, get, count, update, delete, CSV export, and
// locale-variant routes, all driven by the compiled query spec.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/flatten"
	"github.com/atelierhq/atelier/internal/obs"
	"github.com/atelierhq/atelier/internal/query"
)

// Hooks are optional per-resource lifecycle callbacks. A before hook
// returning an error aborts the operation with that error.
type Hooks struct {
	BeforeCreate func(r *http.Request, doc docstore.Document) error
	BeforeUpdate func(r *http.Request, changes docstore.Document) error
	AfterCreate  func(r *http.Request, doc docstore.Document)
}

// Controller serves one registered resource.
type Controller struct {
	name    string
	col     docstore.Collection
	db      docstore.Store
	i18n    []string
	hidden  []string
	allowed []string
	refs    map[string]string
	hooks   Hooks
}

// Option configures a Controller.
type Option func(*Controller)

// WithI18n enables locale-variant routes and names the fields that
// cascade from the default record to its locale variants.
func WithI18n(fields ...string) Option {
	return func(c *Controller) { c.i18n = fields }
}

// WithHidden names fields stripped from every response.
func WithHidden(fields ...string) Option {
	return func(c *Controller) { c.hidden = append(c.hidden, fields...) }
}

// WithRef declares a populatable reference: field holds an id pointing
// into collection.
func WithRef(field, collection string) Option {
	return func(c *Controller) { c.refs[field] = collection }
}

// WithAllowedUpdates restricts PUT bodies to the listed top-level
// fields. Any other field rejects the whole update.
func WithAllowedUpdates(fields ...string) Option {
	return func(c *Controller) { c.allowed = fields }
}

// WithHooks installs lifecycle callbacks.
func WithHooks(hooks Hooks) Option {
	return func(c *Controller) { c.hooks = hooks }
}

// New builds a controller for the named resource over db.
func New(db docstore.Store, name string, opts ...Option) *Controller {
	c := &Controller{
		name: name,
		col:  db.Collection(name),
		db:   db,
		refs: map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register mounts the standard route set on router.
func (c *Controller) Register(router *mux.Router) {
	router.HandleFunc("/"+c.name, c.create).Methods(http.MethodPost)
	router.HandleFunc("/"+c.name, c.list).Methods(http.MethodGet)
	router.HandleFunc("/"+c.name+"/count", c.count).Methods(http.MethodGet)
	router.HandleFunc("/"+c.name+"/export", c.export).Methods(http.MethodGet)
	router.HandleFunc("/"+c.name+"/{id}", c.get).Methods(http.MethodGet)
	router.HandleFunc("/"+c.name+"/{id}", c.update).Methods(http.MethodPut)
	router.HandleFunc("/"+c.name+"/{id}", c.remove).Methods(http.MethodDelete)
	if c.i18n != nil {
		router.HandleFunc("/"+c.name+"/{id}/locales", c.getLocales).Methods(http.MethodGet)
		router.HandleFunc("/"+c.name+"/{id}/locales/fields", c.getLocalesFields).Methods(http.MethodGet)
	}
}

// RegisterSingleton mounts the single-document route set: the resource
// is keyed by locale instead of id.
func (c *Controller) RegisterSingleton(router *mux.Router) {
	router.HandleFunc("/"+c.name, c.getSingle).Methods(http.MethodGet)
	router.HandleFunc("/"+c.name, c.updateSingle).Methods(http.MethodPut)
	if c.i18n != nil {
		router.HandleFunc("/"+c.name+"/{id}/locales", c.getLocales).Methods(http.MethodGet)
		router.HandleFunc("/"+c.name+"/{id}/locales/fields", c.getLocalesFields).Methods(http.MethodGet)
	}
}

// sanitize prepares one document for output: hidden fields always go,
// identity fields go when clear is set, and a non-empty select keeps
// only the chosen paths.
func (c *Controller) sanitize(doc docstore.Document, spec query.Spec) docstore.Document {
	out := doc.Clone()
	for _, field := range c.hidden {
		delete(out, field)
	}
	if spec.Clear {
		delete(out, "id")
	}
	if len(spec.Select) > 0 {
		keep := spec.Select
		if !spec.Clear {
			keep = append([]string{"id"}, keep...)
		}
		out = docstore.Document(flatten.FilterKeys(out, keep))
	}
	return out
}

// populate resolves configured references named by the query spec,
// replacing the stored id with the referenced document.
func (c *Controller) populate(ctx context.Context, doc docstore.Document, spec query.Spec) docstore.Document {
	for _, field := range spec.Populate {
		collection, ok := c.refs[field]
		if !ok {
			continue
		}
		id, ok := doc[field].(string)
		if !ok || id == "" {
			continue
		}
		ref, err := c.db.Collection(collection).FindByID(ctx, id)
		if err != nil {
			continue
		}
		doc[field] = map[string]any(ref)
	}
	return doc
}

func decodeBody(r *http.Request) (docstore.Document, error) {
	var doc docstore.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		return nil, apperr.New(apperr.CodeCast, "Malformed request body", http.StatusBadRequest)
	}
	return doc, nil
}

// storeError maps persistence failures to the client taxonomy.
func storeError(err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return apperr.NoMatches()
	case errors.Is(err, docstore.ErrDuplicate):
		return apperr.New(apperr.CodeValidation, "Duplicate value", http.StatusBadRequest)
	default:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status, envelope, known := apperr.Handle(err)
	if !known {
		obs.Error("resource failure", err, nil)
	}
	writeJSON(w, status, envelope)
}
