package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"maxrelay/internal/service"
)

// handleMetrics serves the in-memory registry as JSON
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := service.LogWithContext(r.Context(), s.logger).WithField("endpoint", "/metrics")
		log.Debug("Serving metrics endpoint")

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.registry.Snapshot()); err != nil {
			log.WithFields(logrus.Fields{"error": err}).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
