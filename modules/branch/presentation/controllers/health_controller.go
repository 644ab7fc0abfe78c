package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iota-uz/branchboard/pkg/application"
	"github.com/iota-uz/branchboard/pkg/httpapi"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database"`
	Error     string `json:"error,omitempty"`
}

type HealthController struct {
	db Pinger
}

func NewHealthController(db Pinger) application.Controller {
	return &HealthController{db: db}
}

func (c *HealthController) Key() string {
	return "/health"
}

func (c *HealthController) Register(r *mux.Router) {
	r.HandleFunc("/health", c.Get).Methods(http.MethodGet)
}

func (c *HealthController) Get(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Database: "unchecked", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK
	if c.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := c.db.Ping(ctx); err != nil {
			resp.Status, resp.Database, resp.Error = "down", "down", err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "up"
		}
	}
	_ = httpapi.WriteJSON(w, status, resp)
}
