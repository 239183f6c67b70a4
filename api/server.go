/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  httplog structured request logging (ECS schema)
  3. Metrics:        Prometheus request duration by route pattern
  4. CleanPath:      Normalizes double slashes
  5. Recoverer:      Panic recovery (500 instead of crash)
  6. Heartbeat:      GET /healthz liveness probe
  7. CORS:           Cross-origin requests for frontends

ROUTE GROUPS:
  /api/employees/*   Employees, adjustments, vacation per employee
  /api/payroll/*     Monthly payroll
  /api/bonuses/*     13th and 14th salaries
  /api/vacation/*    Vacation request decisions
  /api/loans/*       Loans and amortization
  /api/parameters/*  Statutory parameters
  /api/scenarios/*   Demo data
  /metrics           Prometheus exposition
  /healthz           Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

// RouterOptions are the outer-surface settings of the router.
type RouterOptions struct {
	CORSOrigins []string
	// RequestLogLevel is the level of the per-request log line.
	RequestLogLevel slog.Level
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(h.Logger, &httplog.Options{
		Level:  opts.RequestLogLevel,
		Schema: httplog.SchemaECS,
	}))
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	r.Use(middleware.CleanPath)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", h.GetEmployee)
				r.Get("/adjustments", h.ListAdjustments)
				r.Post("/adjustments", h.CreateAdjustment)

				r.Route("/vacation", func(r chi.Router) {
					r.Get("/balance", h.GetVacationBalance)
					r.Post("/validate", h.ValidateVacation)
					r.Get("/requests", h.ListVacationRequests)
					r.Post("/requests", h.SubmitVacation)
					r.Get("/price", h.PriceVacation)
				})
			})
		})

		// Payroll routes
		r.Route("/payroll", func(r chi.Router) {
			r.Post("/calculate", h.CalculatePayroll)
			r.Route("/{period}", func(r chi.Router) {
				r.Get("/", h.GetPayrollSummary)
				r.Get("/records", h.ListPayroll)
				r.Post("/calculate", h.CalculatePeriod)
				r.Post("/save", h.SavePeriod)
				r.Get("/{code}", h.GetPayroll)
				r.Post("/{code}/transition", h.TransitionPayroll)
			})
		})

		// Bonus routes
		r.Route("/bonuses/{kind}/{year}", func(r chi.Router) {
			r.Get("/", h.ListBonuses)
			r.Post("/calculate", h.CalculateBonuses)
			r.Post("/save", h.SaveBonuses)
			r.Post("/{code}/transition", h.TransitionBonus)
		})

		// Vacation decision routes
		r.Route("/vacation/requests/{id}", func(r chi.Router) {
			r.Post("/approve", h.ApproveVacation)
			r.Post("/reject", h.RejectVacation)
			r.Post("/take", h.TakeVacation)
			r.Post("/liquidate", h.LiquidateVacation)
		})

		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.CreateLoan)
			r.Post("/schedule", h.PreviewSchedule)
			r.Post("/variable-rate", h.ChangeVariableRates)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetLoan)
				r.Post("/payments", h.RegisterLoanPayment)
				r.Post("/refresh", h.RefreshLoanStatus)
				r.Post("/cancel", h.CancelLoan)
				r.Post("/rate", h.ChangeLoanRate)
			})
		})

		// Parameter routes
		r.Route("/parameters", func(r chi.Router) {
			r.Get("/", h.ListParameters)
			r.Put("/{key}", h.PutParameter)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
