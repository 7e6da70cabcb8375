package http

import (
	"net/http"

	"github.com/AlibekovAA/carai-auth/internal/common/constants"
	"github.com/AlibekovAA/carai-auth/internal/common/httpmetrics"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
)

func BuildBaseHandler(appName string, log *logger.Logger, corsOrigins []string, handler http.Handler) http.Handler {
	metrics := httpmetrics.New(appName)
	recovery := RecoveryMiddleware(log)
	traceID := TraceIDMiddleware
	maxRequestSize := MaxRequestSizeMiddleware(constants.DefaultMaxRequestSize)
	securityHeaders := SecurityHeadersMiddleware
	cors := CORSMiddleware(corsOrigins)

	return securityHeaders(cors(traceID(recovery(maxRequestSize(metrics.Wrap(handler))))))
}
