package service

import (
	"github.com/AlibekovAA/carai-auth/internal/auth/domain"
	"github.com/AlibekovAA/carai-auth/internal/observability/metrics"
)

const (
	resultSuccess            = "success"
	resultInvalidInput       = "invalid_input"
	resultInvalidCredentials = "invalid_credentials"
	resultInvalidToken       = "invalid_token"
	resultRejected           = "rejected"
	resultConflict           = "conflict"
	resultStoreError         = "store_error"
)

func incrementLogins(result string) {
	metrics.LoginsTotal.WithLabelValues(result).Inc()
}

func incrementRegistrations(result string) {
	metrics.RegistrationsTotal.WithLabelValues(result).Inc()
}

func incrementRefreshes(result string) {
	metrics.RefreshesTotal.WithLabelValues(result).Inc()
}

func observeReconciled(flow string, state domain.State) {
	metrics.SessionsReconciled.WithLabelValues(flow, state.String()).Inc()
}

func incrementSessionsCreated() {
	metrics.SessionsCreated.Inc()
}

func incrementSessionsReused() {
	metrics.SessionsReused.Inc()
}

func incrementStaleDeleted() {
	metrics.SessionsStaleDeleted.Inc()
}

func incrementRevoked(scope string) {
	metrics.SessionsRevoked.WithLabelValues(scope).Inc()
}
