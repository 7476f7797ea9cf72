package http

import (
	"net/http"

	"ofbconnect/internal/infrastructure/certstore"
	"ofbconnect/internal/infrastructure/monitoring"
)

// CertificateSource reports the loaded client certificates.
type CertificateSource interface {
	Loaded() bool
	Info() []certstore.Info
}

type HealthHandler struct {
	monitor *monitoring.Monitor
	certs   CertificateSource
}

func NewHealthHandler(monitor *monitoring.Monitor, certs CertificateSource) *HealthHandler {
	return &HealthHandler{monitor: monitor, certs: certs}
}

// HandleHealth reports certificate validity and the recent bank error rate.
// An unhealthy integration answers 503 so load balancers can act on it.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var (
		infos       []certstore.Info
		initialized bool
	)
	if h.certs != nil {
		infos = h.certs.Info()
		initialized = h.certs.Loaded()
	}

	report := h.monitor.Health(infos, initialized)
	status := http.StatusOK
	if report.Status == monitoring.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// HandleLiveness answers as long as the process serves requests.
func HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
