package api

import (
	"bytes"
	"fmt"
	"net/http"

	"dayline/internal/audit"
	"dayline/internal/metrics"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *HTTPServer) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("audit_export")

	var buf bytes.Buffer
	if err := s.exporter.Export(r.Context(), &buf); err != nil {
		s.logger.Error().Err(err).Msg("audit export failed")
		writeError(w, http.StatusInternalServerError, "audit export failed")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", audit.Filename(s.now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
