package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printspool/internal/config"
)

type ServerConfigResponse struct {
	Port              int     `json:"port"`
	DatabasePath      string  `json:"database_path"`
	MaxRunningJobs    int     `json:"max_running_jobs"`
	MaxWaitingJobs    int     `json:"max_waiting_jobs"`
	IdleTimeout       string  `json:"idle_timeout"`
	ReconcileInterval string  `json:"reconcile_interval"`
	TemplatesDir      string  `json:"templates_dir"`
	OutputDir         string  `json:"output_dir"`
	ReportRetention   string  `json:"report_retention"`
	SubmitRate        float64 `json:"submit_rate"`
	AuthEnabled       bool    `json:"auth_enabled"`
	LogLevel          string  `json:"log_level"`
	LogFormat         string  `json:"log_format"`
}

type SettingsHandler struct {
	config *config.Config
}

func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ServerConfigResponse{
		Port:              h.config.Server.Port,
		DatabasePath:      h.config.Database.Path,
		MaxRunningJobs:    h.config.Jobs.MaxRunningJobs,
		MaxWaitingJobs:    h.config.Jobs.MaxWaitingJobs,
		IdleTimeout:       h.config.Jobs.IdleTimeout.String(),
		ReconcileInterval: h.config.Jobs.ReconcileInterval.String(),
		TemplatesDir:      h.config.Labels.TemplatesDir,
		OutputDir:         h.config.Labels.OutputDir,
		ReportRetention:   h.config.Labels.ReportRetention.String(),
		SubmitRate:        h.config.Server.SubmitRate,
		AuthEnabled:       h.config.Auth.Enabled,
		LogLevel:          h.config.Logging.Level,
		LogFormat:         h.config.Logging.Format,
	})
}

func RegisterSettingsRoutes(r *gin.RouterGroup, h *SettingsHandler) {
	r.GET("/settings/server", h.GetServerConfig)
}
