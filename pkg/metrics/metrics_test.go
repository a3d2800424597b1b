package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	PackagesProcessedTotal.WithLabelValues("success").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "metacam_packages_processed_total") {
		t.Errorf("expected metrics output to contain metacam_packages_processed_total, got:\n%s", body)
	}
}
