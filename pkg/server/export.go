package server

import (
	"net/http"
	"net/http/pprof"

	"github.com/gwen-lg/puffin-test-app/pkg/flamegraph"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) handleFlamegraph(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	stacks := flamegraph.Collapse(s.src.Frames())
	if len(stacks) == 0 {
		http.Error(w, "no scopes captured yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := flamegraph.WriteSVG(w, stacks, flamegraph.DefaultSVGOptions()); err != nil {
		s.logger.WithError(err).Warn("flame graph render failed")
	}
}

func (s *Server) handleCollapsed(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := flamegraph.WriteCollapsed(w, flamegraph.Collapse(s.src.Frames())); err != nil {
		s.logger.WithError(err).Warn("collapsed export failed")
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	prof := flamegraph.ToProfile(flamegraph.Collapse(s.src.Frames()), s.started)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="scopes.pb.gz"`)
	if err := prof.Write(w); err != nil {
		s.logger.WithError(err).Warn("profile export failed")
	}
}

func (s *Server) handlePprof(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch ps.ByName("item") {
	case "/cmdline":
		pprof.Cmdline(w, r)
	case "/profile":
		pprof.Profile(w, r)
	case "/symbol":
		pprof.Symbol(w, r)
	case "/trace":
		pprof.Trace(w, r)
	default:
		pprof.Index(w, r)
	}
}
