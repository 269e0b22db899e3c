package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		projects, err := r.projects.List(req.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]projectResponse, 0, len(projects))
		for i := range projects {
			out = append(out, newProjectResponse(&projects[i]))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody)).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		project, err := r.projects.Create(req.Context(), payload.Name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newProjectResponse(project))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	projectID, ok := r.projectID(w, req)
	if !ok {
		return
	}
	project, err := r.projects.Get(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newProjectResponse(project))
}

func (r *Router) handleProjectResources(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	projectID, ok := r.projectID(w, req)
	if !ok {
		return
	}
	resources, err := r.projects.Resources(req.Context(), projectID, req.URL.Query().Get("region"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResourcesResponse(resources))
}

func (r *Router) projectID(w http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		r.notFound(w)
		return 0, false
	}
	return id, true
}
