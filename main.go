package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/flowkeeper/enginecore/internal/demo"
	"github.com/flowkeeper/enginecore/pkg/db"
	"github.com/flowkeeper/enginecore/services/callables"
	"github.com/flowkeeper/enginecore/services/httpapi"
	"github.com/flowkeeper/enginecore/services/permission"
	"github.com/flowkeeper/enginecore/services/storage"
)

func main() {
	ctx := context.Background()
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(logHandler))

	store, err := buildStorage(ctx)
	if err != nil {
		slog.Error("failed to set up storage", "error", err)
		return
	}

	registry := callables.NewRegistry()
	gate := permission.NewGate(demo.AllowAllOracle{})
	resolver := demo.NewMapResolver(demo.NewRegistry())

	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	svc, err := httpapi.NewService(store, registry, gate, resolver)
	if err != nil {
		slog.Error("failed to create httpapi service", "error", err)
		return
	}
	svc.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"http://localhost:3003"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Demo-User"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server on :8080")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("Server error", "error", err)

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
}

// buildStorage connects to Postgres when DATABASE_URL is set, and falls
// back to the in-memory store otherwise so the engine runs standalone for
// local experimentation.
func buildStorage(ctx context.Context) (storage.Storage, error) {
	dbURL, ok := os.LookupEnv("DATABASE_URL")
	if !ok {
		slog.Warn("DATABASE_URL is not set, using in-memory storage")
		return storage.NewMemoryStore(), nil
	}

	dbCfg := db.DefaultConfig(dbURL)
	pool, err := db.Connect(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	return storage.NewPgStore(pool)
}
