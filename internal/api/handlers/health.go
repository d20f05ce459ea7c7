package handlers

import (
	"net/http"

	"github.com/cloo-solutions/kbchat/internal/api"
)

type HealthResponse struct {
	Status string `json:"status"`
}

func Health(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, HealthResponse{Status: "ok"})
}
