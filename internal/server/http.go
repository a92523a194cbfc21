// Package server assembles the HTTP API and the gRPC health listener.
package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	accounthandler "account-lifecycle/internal/account/handler"
	"account-lifecycle/internal/audit"
	devotphandler "account-lifecycle/internal/devotp/handler"
	healthhandler "account-lifecycle/internal/health/handler"
	identityhandler "account-lifecycle/internal/identity/handler"
	moddomain "account-lifecycle/internal/moderation/domain"
	moderationhandler "account-lifecycle/internal/moderation/handler"
	notificationhandler "account-lifecycle/internal/notification/handler"
	"account-lifecycle/internal/server/interceptors"
	sessionhandler "account-lifecycle/internal/session/handler"
	stepuphandler "account-lifecycle/internal/stepup/handler"
)

// Deps holds the handlers and middleware dependencies of the HTTP API.
type Deps struct {
	Tokens   interceptors.TokenValidator
	Sessions interceptors.SessionValidator
	Gate     interceptors.GateToucher
	// Audit records one entry per authenticated mutating request. If nil, nothing is recorded.
	Audit  audit.AuditLogger
	Health healthhandler.Checker

	Identity      *identityhandler.Handler
	StepUp        *stepuphandler.Handler
	Accounts      *accounthandler.Handler
	Moderation    *moderationhandler.Handler
	Notifications *notificationhandler.Handler
	Events        *sessionhandler.Handler
	// DevOTC is mounted at GET /dev/otc only when set. Set it only in dev code mode outside production.
	DevOTC *devotphandler.Handler

	Log zerolog.Logger
}

// NewApp returns the fiber app with every route registered.
//
// Route → handler mapping:
//   - /auth/signin, /auth/signout           → internal/identity/handler
//   - /auth/* step-up, reset, gate, lockouts → internal/stepup/handler
//   - /accounts                              → internal/account/handler
//   - /moderation                            → internal/moderation/handler
//   - /notifications                         → internal/notification/handler
//   - /events, /sessions/validate            → internal/session/handler
//   - /healthz                               → internal/health/handler
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "account-lifecycle",
		ErrorHandler:          interceptors.NewErrorHandler(d.Log),
		ReadTimeout:           15 * time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})
	app.Use(interceptors.RequestIP(), interceptors.Telemetry(map[string]bool{"/healthz": true, "/events": true}))

	app.Get("/healthz", healthhandler.Healthz(d.Health))
	if d.DevOTC != nil {
		app.Get("/dev/otc", d.DevOTC.GetOTC)
	}

	authn := interceptors.Authenticate(d.Tokens, d.Sessions)
	auditMW := interceptors.Audit(d.Audit)
	admin := interceptors.RequireAdmin()
	gate := interceptors.ManagementGate(d.Gate)

	// Public routes are registered before the authenticated /auth group: fiber applies group
	// middleware to every later route under the prefix.
	app.Post("/auth/signin", d.Identity.SignIn)
	app.Post("/auth/password-reset/send", d.StepUp.SendResetOTC)
	app.Post("/auth/password-reset", d.StepUp.ResetPassword)

	auth := app.Group("/auth", authn, auditMW)
	auth.Post("/signout", d.Identity.SignOut)
	auth.Post("/verify-password", d.StepUp.VerifyPassword)
	auth.Post("/send-otc", d.StepUp.SendOTC)
	auth.Post("/verify-otc", d.StepUp.VerifyOTC)
	auth.Get("/lockouts", admin, gate, d.StepUp.ListLockouts)
	auth.Post("/management/unlock", admin, d.StepUp.UnlockManagement)
	auth.Get("/management/status", admin, d.StepUp.ManagementStatus)

	accounts := app.Group("/accounts", authn, auditMW)
	accounts.Patch("/me", d.Accounts.UpdateProfile)
	accounts.Delete("/me", d.Accounts.DeleteSelf)
	accounts.Post("/me/admin-request", d.Accounts.RequestAdmin)
	accounts.Post("/transfer-default-admin", admin, gate, d.Accounts.TransferDefaultAdmin)
	accounts.Patch("/:id/suspend", admin, gate, d.Accounts.Transition(moddomain.ActionSuspend))
	accounts.Patch("/:id/activate", admin, gate, d.Accounts.Transition(moddomain.ActionActivate))
	accounts.Delete("/:id/purge", admin, gate, d.Accounts.Transition(moddomain.ActionPurge))
	accounts.Delete("/:id", admin, gate, d.Accounts.Transition(moddomain.ActionSoftban))
	accounts.Post("/:id/restore", admin, gate, d.Accounts.Transition(moddomain.ActionRestore))
	accounts.Patch("/:id/promote", admin, gate, d.Accounts.Transition(moddomain.ActionPromote))
	accounts.Patch("/:id/demote", admin, gate, d.Accounts.Transition(moddomain.ActionDemote))
	accounts.Patch("/:id/reapprove", admin, gate, d.Accounts.Transition(moddomain.ActionReapprove))
	accounts.Patch("/:id/approve", admin, gate, d.Accounts.Transition(moddomain.ActionApprove))
	accounts.Patch("/:id/reject", admin, gate, d.Accounts.Transition(moddomain.ActionReject))

	moderation := app.Group("/moderation", authn, admin, gate)
	moderation.Get("/softbanned", d.Moderation.ListSoftbanned)
	moderation.Get("/purged", d.Moderation.ListPurged)
	moderation.Get("/accounts/:id/history", d.Moderation.History)

	notifications := app.Group("/notifications", authn, auditMW)
	notifications.Put("/admins/read-all", admin, d.Notifications.MarkAllReadForAdmins)
	notifications.Post("/broadcast", admin, d.Notifications.Broadcast)
	notifications.Get("/:accountId/unread-count", d.Notifications.UnreadCount)
	notifications.Get("/:accountId", d.Notifications.List)
	notifications.Put("/:id/read", d.Notifications.MarkRead)
	notifications.Put("/:accountId/read-all", d.Notifications.MarkAllRead)
	notifications.Delete("/:accountId/all", d.Notifications.DeleteAll)
	notifications.Delete("/:id", d.Notifications.Delete)

	app.Get("/events", authn, d.Events.Events)
	app.Get("/sessions/validate", authn, d.Events.Validate)
	return app
}
