package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
	"github.com/barckcode/puyu-api/internal/service/provision"
	"github.com/barckcode/puyu-api/internal/ws"
)

// createInstanceRequest keeps the field names used by existing clients.
type createInstanceRequest struct {
	Name         string `json:"name"`
	DiskSize     int    `json:"disk_size"`
	InstanceType string `json:"instance_type_cloud_id"`
	ImageID      string `json:"aws_ami_id"`
	Region       string `json:"region_cloud_id"`
	ProjectID    int64  `json:"project_id"`
}

func (p createInstanceRequest) input() provision.CreateInstanceInput {
	return provision.CreateInstanceInput{
		Name:         p.Name,
		Region:       p.Region,
		ImageID:      p.ImageID,
		InstanceType: p.InstanceType,
		DiskSizeGB:   p.DiskSize,
		ProjectID:    p.ProjectID,
	}
}

func (r *Router) handleCreateInstance(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload createInstanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	summary, err := r.provisioner.CreateInstance(req.Context(), payload.input())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (r *Router) handleImageSearch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	query := req.URL.Query()
	region := strings.TrimSpace(query.Get("region"))
	if region == "" {
		region = r.defaultRegion
	}
	var owners []string
	if owner := strings.TrimSpace(query.Get("owner")); owner != "" {
		owners = strings.Split(owner, ",")
	}
	images, err := r.images.SearchImages(req.Context(), awsprovider.ImageQuery{
		Region:       region,
		Name:         query.Get("name"),
		Architecture: query.Get("architecture"),
		Owners:       owners,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"region": region, "images": images})
}

func (r *Router) handleGetRun(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	run, err := r.provisioner.GetRun(req.Context(), req.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(run))
}

func (r *Router) handleProvisioningWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	projectID, err := strconv.ParseInt(req.URL.Query().Get("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	if _, err := r.projects.Get(req.Context(), projectID); err != nil {
		writeServiceError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		client.Run()
	}()
}
