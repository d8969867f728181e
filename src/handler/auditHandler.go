package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"cryptoexecutor/src/auth"
	"cryptoexecutor/src/reconcile"

	logger "github.com/sirupsen/logrus"
)

type auditor interface {
	RunAudit(ctx context.Context) (reconcile.AuditResult, error)
}

// AuditHandler runs an audit pass and reports PASS or FAIL. A failing
// audit answers 503 so load balancers and uptime checks notice.
func AuditHandler(a auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := auth.GetOperatorFromContext(r.Context())
		if !ok || op == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		res, err := a.RunAudit(r.Context())
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"handler":  "AuditHandler",
				"operator": op.Name,
			}).WithError(err).Warn("audit finished with errors")
		}
		status := http.StatusOK
		if res.Status != reconcile.AuditPass {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
