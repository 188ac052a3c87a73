package pprof

import (
	"fmt"
	"net/http"
	httppprof "net/http/pprof"
)

// ListenAndServe exposes the runtime profiles on their own port. The
// handlers go on a dedicated mux so they never leak onto the mux serving
// player traffic.
func ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
	return fmt.Errorf("pprof listener stopped: %w", http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux))
}
