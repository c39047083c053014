// Package api serves the operator HTTP endpoints: health, manual polls and
// inspection of conversations and secondary dispatch.
package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/api/handlers"
	"github.com/dvloznov/expense-review-bot/internal/api/middleware"
	"github.com/dvloznov/expense-review-bot/internal/jobs"
)

// Deps are the components the endpoints read from.
type Deps struct {
	Poller        handlers.Poller
	Conversations handlers.Conversations
	Failures      handlers.Failures
	Sinks         []string
	Jobs          jobs.JobStore

	// Token, when set, is required as a bearer token on every /api path.
	Token string
}

// NewHandler builds the routed handler with the middleware chain applied.
func NewHandler(deps Deps, log zerolog.Logger) http.Handler {
	pollHandler := handlers.NewPollHandler(deps.Poller, log)
	conversationsHandler := handlers.NewConversationsHandler(deps.Conversations)
	dispatchHandler := handlers.NewDispatchHandler(deps.Failures, deps.Sinks)
	jobsHandler := handlers.NewJobsHandler(deps.Jobs, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", only(http.MethodGet, handlers.Health))
	mux.HandleFunc("/api/poll", only(http.MethodPost, pollHandler.Poll))
	mux.HandleFunc("/api/conversations", only(http.MethodGet, conversationsHandler.List))
	mux.HandleFunc("/api/dispatch/failures", only(http.MethodGet, dispatchHandler.Failures))
	mux.HandleFunc("/api/jobs", only(http.MethodGet, jobsHandler.ListJobs))
	mux.HandleFunc("/api/jobs/", only(http.MethodGet, jobsHandler.GetJob))

	return middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.Auth(deps.Token, "/health")(mux),
			),
		),
	)
}

func only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}
