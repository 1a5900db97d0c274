package health

import (
	"net/http"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Handler serves the result of a Checker. A healthy check answers 204 with no body, an unhealthy one answers 503
// with one line per failed dependency.
type Handler struct {
	checker Checker
}

func NewHandler(checker Checker) *Handler {
	return &Handler{checker: checker}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	err := h.checker.Check()
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	failures := failureLines(err)
	log.WithField("failures", len(failures)).Warnf("Health check failed: %s", strings.Join(failures, "; "))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	if _, err = w.Write([]byte(strings.Join(failures, "\n") + "\n")); err != nil {
		log.Errorf("Failed to write health check response: %v", err)
	}
}

func failureLines(err error) []string {
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) == 0 {
		return []string{err.Error()}
	}
	lines := make([]string, len(merr.Errors))
	for i, e := range merr.Errors {
		lines[i] = e.Error()
	}
	return lines
}
