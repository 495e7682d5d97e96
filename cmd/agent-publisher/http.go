package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/freshbasket/livetrack/internal/faults"
	"github.com/freshbasket/livetrack/internal/services/publisher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

type controlHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	publisher *publisher.Publisher
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// controlRouter exposes the publisher to the agent app running on the same device.
func controlRouter(p *publisher.Publisher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Session())
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Stats())
	})

	r.Post("/share/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		if err := p.Start(r.Context(), chi.URLParam(r, "orderId")); err != nil {
			var f *faults.Fault
			if errors.As(err, &f) {
				writeJSON(w, http.StatusConflict, map[string]any{"kind": f.Kind, "error": f.Message, "session": p.Session()})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, p.Session())
	})

	r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		if err := p.Stop(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, p.Session())
	})

	r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
		if err := p.Logout(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, p.Session())
	})

	return r
}

func runControlServer(ctx context.Context, opts controlHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = "127.0.0.1:8090"
	}
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: controlRouter(opts.publisher), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}
