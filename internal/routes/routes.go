package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/virtshift/virtshift-api/internal/authz"
	"github.com/virtshift/virtshift-api/internal/handlers"
	"github.com/virtshift/virtshift-api/internal/models"
)

// NewRouter sets up the API routes. Viewers can read everything in their
// tenant; operators submit and cancel jobs; admins manage hosts.
func NewRouter(
	auth *handlers.AuthHandler,
	job *handlers.JobHandler,
	host *handlers.HostHandler,
	disc *handlers.DiscoveryHandler,
	notif *handlers.NotificationHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Public auth endpoints
	router.HandleFunc("/api/signup", auth.SignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", auth.Login).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware)

	// Jobs
	api.Handle("/jobs/migrations", authz.RequireRoleHandler(models.RoleOperator, job.SubmitJob(models.JobKindMigration))).Methods(http.MethodPost)
	api.Handle("/jobs/distributions", authz.RequireRoleHandler(models.RoleOperator, job.SubmitJob(models.JobKindDistribution))).Methods(http.MethodPost)
	api.Handle("/jobs/rotations", authz.RequireRoleHandler(models.RoleAdmin, job.SubmitJob(models.JobKindRotation))).Methods(http.MethodPost)
	api.Handle("/jobs", authz.RequireRoleHandler(models.RoleViewer, http.HandlerFunc(job.ListJobs))).Methods(http.MethodGet)
	api.Handle("/jobs/{jobID}", authz.RequireRoleHandler(models.RoleViewer, http.HandlerFunc(job.GetJobStatus))).Methods(http.MethodGet)
	api.Handle("/jobs/{jobID}/cancel", authz.RequireRoleHandler(models.RoleOperator, http.HandlerFunc(job.CancelJob))).Methods(http.MethodPost)

	// Hypervisor hosts
	api.Handle("/hosts", authz.RequireRoleHandler(models.RoleAdmin, http.HandlerFunc(host.CreateHost))).Methods(http.MethodPost)
	api.Handle("/hosts", authz.RequireRoleHandler(models.RoleViewer, http.HandlerFunc(host.ListHosts))).Methods(http.MethodGet)
	api.Handle("/hosts/{hostID}", authz.RequireRoleHandler(models.RoleViewer, http.HandlerFunc(host.GetHost))).Methods(http.MethodGet)
	api.Handle("/hosts/{hostID}", authz.RequireRoleHandler(models.RoleAdmin, http.HandlerFunc(host.DeleteHost))).Methods(http.MethodDelete)

	// Inventory discovery
	api.Handle("/hosts/{hostID}/vms", authz.RequireRoleHandler(models.RoleViewer, http.HandlerFunc(disc.ListInventory))).Methods(http.MethodGet)
	api.Handle("/hosts/{hostID}/discovery", authz.RequireRoleHandler(models.RoleOperator, http.HandlerFunc(disc.RefreshInventory))).Methods(http.MethodPost)

	// Notifications
	api.Handle("/notifications", authz.RequireRoleHandler(models.RoleViewer, http.HandlerFunc(notif.ListNotifications))).Methods(http.MethodGet)
	api.Handle("/notifications/{notificationID}/read", authz.RequireRoleHandler(models.RoleViewer, http.HandlerFunc(notif.MarkRead))).Methods(http.MethodPost)

	return router
}
