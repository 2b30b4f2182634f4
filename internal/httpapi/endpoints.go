package httpapi

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/atelierhq/atelier/internal/apperr"
)

type endpoint struct {
	path    string
	methods []string
}

// walkEndpoints enumerates the route table. Methods already granted to
// everyone through an open manual rule are dropped, so the listing only
// shows what role configuration can influence.
func (a *API) walkEndpoints() []endpoint {
	byPath := map[string][]string{}
	var order []string

	_ = a.router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		if _, seen := byPath[path]; !seen {
			order = append(order, path)
		}
		byPath[path] = append(byPath[path], methods...)
		return nil
	})

	endpoints := make([]endpoint, 0, len(order))
	for _, path := range order {
		methods := byPath[path]
		kept := methods[:0]
		for _, method := range methods {
			if a.manualOpen(path, method) {
				continue
			}
			kept = append(kept, method)
		}
		if len(kept) == 0 {
			continue
		}
		sort.Strings(kept)
		endpoints = append(endpoints, endpoint{path: path, methods: kept})
	}
	return endpoints
}

func (a *API) manualOpen(path, method string) bool {
	for _, rule := range a.manual {
		if rule.Path == path && !rule.RoleAccess && containsString(rule.Methods, method) {
			return true
		}
	}
	return false
}

func (a *API) listPaths(w http.ResponseWriter, r *http.Request) {
	endpoints := a.walkEndpoints()
	out := make([]map[string]string, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, map[string]string{"key": ep.path})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) listMethods(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apperr.New("missing_path", "Missing endpoint path", http.StatusNotFound))
		return
	}
	for _, ep := range a.walkEndpoints() {
		if ep.path != path {
			continue
		}
		out := make([]map[string]string, 0, len(ep.methods))
		for _, method := range ep.methods {
			out = append(out, map[string]string{"key": method})
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeError(w, apperr.NoMatches())
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
