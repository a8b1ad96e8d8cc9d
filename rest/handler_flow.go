package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/txflow/flow"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/model"
	"go.uber.org/zap"
)

type feeRequest struct {
	Id string `json:"id"`
}

type approvalRequest struct {
	Requirement model.Requirement `json:"requirement"`
}

type invalidateRequest struct {
	Step   model.StepName `json:"step"`
	Reason string         `json:"reason"`
}

func (s *Server) HandleOpenFlow(w http.ResponseWriter, r *http.Request) {
	var intent model.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid intent")
		return
	}
	defer r.Body.Close()
	if _, err := model.ToFlowType(string(intent.Type)); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	machine := s.newFlow()
	state := machine.Open(r.Context(), intent)
	if len(state.FatalError) > 0 {
		logger.Error("error opening flow", zap.String("flow", string(intent.Type)), zap.String("error", state.FatalError))
		machine.Close()
		respondWithJSON(w, http.StatusUnprocessableEntity, state)
		return
	}
	s.register(machine)
	respondWithJSON(w, http.StatusCreated, state)
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	respondOK(w, machine.State())
}

func (s *Server) HandleAdvanceFlow(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	respondOK(w, machine.Advance(r.Context()))
}

func (s *Server) HandleRunFlow(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	respondOK(w, machine.Run(r.Context()))
}

func (s *Server) HandleResetFlow(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	var intent model.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid intent")
		return
	}
	defer r.Body.Close()
	respondOK(w, machine.Reset(r.Context(), intent))
}

func (s *Server) HandleExecuteStep(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	step := model.StepName(mux.Vars(r)["step"])
	respondOK(w, machine.Execute(r.Context(), step))
}

func (s *Server) HandleSetForm(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	var form model.FormValues
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid form values")
		return
	}
	defer r.Body.Close()
	respondOK(w, machine.SetFormValues(form))
}

func (s *Server) HandleSelectFee(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid fee selection")
		return
	}
	defer r.Body.Close()
	state, err := machine.SelectFee(req.Id)
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondOK(w, state)
}

func (s *Server) HandleUpdateApproval(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid approval requirement")
		return
	}
	defer r.Body.Close()
	respondOK(w, machine.UpdateApproval(req.Requirement))
}

func (s *Server) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid invalidation request")
		return
	}
	defer r.Body.Close()
	state, err := machine.Invalidate(req.Step, req.Reason)
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondOK(w, state)
}

func (s *Server) HandleCloseFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	machine, ok := s.remove(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "flow not found")
		return
	}
	machine.Close()
	respondOKWithoutBody(w)
}

func (s *Server) HandleGetFlowRecord(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.flowFromRequest(w, r)
	if !ok {
		return
	}
	record, found := machine.Record()
	if !found {
		respondWithError(w, http.StatusNotFound, "flow has no record")
		return
	}
	respondOK(w, record)
}

func (s *Server) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if s.records == nil {
		respondWithError(w, http.StatusNotFound, "record not found")
		return
	}
	record, found := s.records.Get(key)
	if !found {
		respondWithError(w, http.StatusNotFound, "record not found")
		return
	}
	respondOK(w, record)
}

func (s *Server) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	records := []model.OrderRecord{}
	if s.records != nil {
		records = append(records, s.records.List()...)
	}
	respondOK(w, records)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, flow.ErrStepInFlight):
		return http.StatusConflict
	case errors.Is(err, flow.ErrStepNotFound):
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func (s *Server) flowFromRequest(w http.ResponseWriter, r *http.Request) (*flow.FlowMachine, bool) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "flow id is required")
		return nil, false
	}
	machine, ok := s.lookup(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "flow not found")
		return nil, false
	}
	return machine, true
}
