package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/txflow/flow"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/model"
	"go.uber.org/zap"
)

// FlowFactory builds an unopened flow machine.
type FlowFactory func() *flow.FlowMachine

type RecordReader interface {
	Get(key string) (model.OrderRecord, bool)
	List() []model.OrderRecord
}

type Server struct {
	http.Server
	Port    int
	newFlow FlowFactory
	records RecordReader
	mu      sync.RWMutex
	flows   map[string]*flow.FlowMachine
}

func NewServer(httpPort int, newFlow FlowFactory, records RecordReader) (*Server, error) {
	if newFlow == nil {
		return nil, fmt.Errorf("flow factory is required")
	}
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		newFlow: newFlow,
		records: records,
		flows:   make(map[string]*flow.FlowMachine),
		Port:    httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/flows", s.HandleOpenFlow).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/flows/{id}", s.HandleCloseFlow).Methods(http.MethodDelete)
	router.HandleFunc("/flows/{id}/advance", s.HandleAdvanceFlow).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/run", s.HandleRunFlow).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/reset", s.HandleResetFlow).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/steps/{step}/execute", s.HandleExecuteStep).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/form", s.HandleSetForm).Methods(http.MethodPut)
	router.HandleFunc("/flows/{id}/fee", s.HandleSelectFee).Methods(http.MethodPut)
	router.HandleFunc("/flows/{id}/approval", s.HandleUpdateApproval).Methods(http.MethodPut)
	router.HandleFunc("/flows/{id}/invalidate", s.HandleInvalidate).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/record", s.HandleGetFlowRecord).Methods(http.MethodGet)

	router.HandleFunc("/records", s.HandleListRecords).Methods(http.MethodGet)
	router.HandleFunc("/records/{key}", s.HandleGetRecord).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	s.mu.Lock()
	for id, machine := range s.flows {
		machine.Close()
		delete(s.flows, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *Server) register(machine *flow.FlowMachine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[machine.FlowId] = machine
}

func (s *Server) lookup(id string) (*flow.FlowMachine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	machine, ok := s.flows[id]
	return machine, ok
}

func (s *Server) remove(id string) (*flow.FlowMachine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	machine, ok := s.flows[id]
	delete(s.flows, id)
	return machine, ok
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI, zap.String("method", r.Method))
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("error encoding response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload interface{}) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondOKWithoutBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
