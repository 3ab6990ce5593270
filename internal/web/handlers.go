package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hpungsan/malaise/internal/episode"
	"github.com/hpungsan/malaise/internal/errors"
	"github.com/hpungsan/malaise/internal/ops"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	deps     ops.Deps
	deviceID string
	renderer *Renderer
}

// HandleList handles GET /episodes.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = h.deviceID
	}

	input := ops.ListInput{
		DeviceID:   deviceID,
		ActiveOnly: parseBoolParam(r, "active_only"),
		Limit:      parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:     parseIntParam(r, "offset", 0),
	}

	result, err := ops.List(r.Context(), h.deps, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	nav, title := "episodes", "Episodes"
	if input.ActiveOnly {
		nav, title = "active", "Active episodes"
	}
	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData: PageData{
			Title:   title,
			Version: h.renderer.version,
			Nav:     nav,
		},
		Items:      result.Items,
		Pagination: result.Pagination,
		DeviceID:   deviceID,
		ActiveOnly: input.ActiveOnly,
	})
}

// HandleDetail handles GET /episodes/{id}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("episode ID is required"))
		return
	}

	result, err := ops.Get(r.Context(), h.deps, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	data := DetailPageData{
		PageData: PageData{
			Title:   result.Episode.Title,
			Version: h.renderer.version,
			Nav:     "episodes",
		},
		Episode: result.Episode,
		Entries: entryViews(result.Entries),
		Today:   episode.Today(time.Now()),
	}
	if result.Episode.AISummary != nil {
		data.SummaryHTML = renderMarkdown(*result.Episode.AISummary)
	}
	h.renderer.renderPage(w, r, "detail", data)
}

// HandleResolve handles POST /episodes/{id}/resolve.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("episode ID is required"))
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	ep, err := ops.Resolve(r.Context(), h.deps, ops.ResolveInput{
		EpisodeID: id,
		EndDate:   r.FormValue("end_date"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	target := "/episodes/" + ep.ID
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, ep)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleDelete handles DELETE /episodes/{id}.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("episode ID is required"))
		return
	}

	result, err := ops.Delete(r.Context(), h.deps, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	// HTMX request: redirect via HX-Redirect header
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/episodes")
		w.WriteHeader(http.StatusOK)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	http.Redirect(w, r, "/episodes", http.StatusFound)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
