package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeDispatcher struct {
	calls []string
	err   error
}

func (d *fakeDispatcher) Dispatch(cameraIP string, cameraPort int, rawHex string) error {
	d.calls = append(d.calls, cameraIP+" "+rawHex)
	return d.err
}

func TestCommandEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		err        error
		wantStatus int
		wantCalls  int
	}{
		{"acknowledged", "/cameras/192.168.0.100/52381/commands", `{"payload":"81 01 04 00 02 FF"}`, nil, http.StatusOK, 1},
		{"camera failure", "/cameras/192.168.0.100/52381/commands", `{"payload":"8101040002FF"}`, errors.New("timeout"), http.StatusBadGateway, 1},
		{"bad ip", "/cameras/camera/52381/commands", `{"payload":"8101040002FF"}`, nil, http.StatusBadRequest, 0},
		{"bad port", "/cameras/192.168.0.100/0/commands", `{"payload":"8101040002FF"}`, nil, http.StatusBadRequest, 0},
		{"bad json", "/cameras/192.168.0.100/52381/commands", `payload`, nil, http.StatusBadRequest, 0},
		{"bad hex", "/cameras/192.168.0.100/52381/commands", `{"payload":"81x1"}`, nil, http.StatusBadRequest, 0},
		{"empty payload", "/cameras/192.168.0.100/52381/commands", `{"payload":""}`, nil, http.StatusBadRequest, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dispatcher := &fakeDispatcher{err: test.err}
			router := NewRouter(dispatcher, prometheus.NewRegistry())

			request := httptest.NewRequest(http.MethodPost, test.path, strings.NewReader(test.body))
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, request)

			if recorder.Code != test.wantStatus {
				t.Errorf("status = %d, want %d (%s)", recorder.Code, test.wantStatus, recorder.Body)
			}
			if len(dispatcher.calls) != test.wantCalls {
				t.Errorf("dispatched %d times, want %d", len(dispatcher.calls), test.wantCalls)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "visca_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	router := NewRouter(&fakeDispatcher{}, registry)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("/healthz status = %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "visca_test_total 1") {
		t.Errorf("/metrics status = %d, body:\n%s", recorder.Code, recorder.Body)
	}
}
