package health

import (
	"encoding/json"
	"net/http"
)

// Liveness answers as long as the process serves HTTP.
func Liveness(version string) http.HandlerFunc {
	body := []byte("ok " + version + "\n")
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(body)
	}
}

// Status describes the local log and its replication state.
type Status struct {
	Ready    bool   `json:"-"`
	Topic    string `json:"topic,omitempty"`
	Writable bool   `json:"writable"`
	Length   uint64 `json:"length"`
	Peers    int    `json:"peers"`
}

type ReadinessReporter interface {
	Readiness() Status
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			State string `json:"status"`
			Status
		}
		st := rr.Readiness()
		out := resp{State: "not_ready", Status: st}
		if st.Ready {
			out.State = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !st.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
