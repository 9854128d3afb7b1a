package results

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes a Store over HTTP: POST /records, GET /aggregates, GET /health.
type Server struct {
	Store  Store
	Addr   string
	Logger logrus.FieldLogger
}

// NewServer creates a server that uses the given Store.
func NewServer(store Store, addr string) *Server {
	if addr == "" {
		addr = ":8080"
	}
	return &Server{Store: store, Addr: addr, Logger: logrus.StandardLogger()}
}

type recordsRequest struct {
	Records []PairRecord `json:"records"`
}

type aggregateView struct {
	Aggregate
	Rate float64 `json:"rate"`
}

type aggregateResponse struct {
	Aggregates []aggregateView `json:"aggregates"`
}

// Router returns the configured routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logging)
	r.HandleFunc("/records", s.handleRecords).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/aggregates", s.handleAggregates).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// ListenAndServe starts the HTTP server. Use go s.ListenAndServe() to run in background.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.Addr, s.Router())
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"took":   time.Since(start).String(),
			}).Debug("request")
		}
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	var req recordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, "records required", http.StatusBadRequest)
		return
	}
	for _, rec := range req.Records {
		if rec.Source == "" || rec.Target == "" {
			http.Error(w, "source and target required", http.StatusBadRequest)
			return
		}
	}
	for _, rec := range req.Records {
		if err := s.Store.Record(r.Context(), rec); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	params := r.URL.Query()
	q := Query{
		Corpus:  params.Get("corpus"),
		Source:  params.Get("source"),
		Target:  params.Get("target"),
		RunID:   params.Get("run_id"),
		GroupBy: params.Get("group_by"),
		Limit:   defaultLimit,
	}
	if from := params.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			q.From = t
		}
	}
	if to := params.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			q.To = t
		}
	}
	if limit := params.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			q.Limit = n
		}
	}
	agg, err := s.Store.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := aggregateResponse{Aggregates: make([]aggregateView, 0, len(agg))}
	for _, a := range agg {
		resp.Aggregates = append(resp.Aggregates, aggregateView{Aggregate: a, Rate: a.Rate()})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
