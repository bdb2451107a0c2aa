// Package slotrest serves the read-only operations API: health and
// per-meeting slot snapshots.
package slotrest

import (
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/savaki/apigateway"

	slotcli "github.com/classmeet/video-slots/slot-cli"
)

func Middlewares(service slotcli.Service, routes chi.Router) chi.Router {
	routes.Use(
		withCORS(),
		withLogger(slotcli.Logger(service)),
		middleware.Recoverer,
	)
	return routes
}

func Webserver(service slotcli.Service, routes chi.Router) error {
	logger := slotcli.Logger(service)

	if slotcli.CommonOpts.Console {
		logger.Info().Int("port", slotcli.CommonOpts.Port).Msg("starting http server")
		addr := fmt.Sprintf(":%v", slotcli.CommonOpts.Port)
		return http.ListenAndServe(addr, routes)
	}

	lambda.Start(apigateway.Wrap(routes, slotcli.CommonOpts.Env))
	return nil
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logger.WithContext(req.Context())
			req = req.WithContext(ctx)
			handler.ServeHTTP(w, req)
		})
	}
}
