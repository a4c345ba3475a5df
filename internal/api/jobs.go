package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"AgentReceipt/internal/jobs"
)

type submitJobRequest struct {
	ID           string          `json:"id,omitempty"`
	Receipt      json.RawMessage `json:"receipt"`
	CheckOnChain *bool           `json:"checkOnChain,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.opts.Jobs == nil {
		writeError(w, r, unavailable("job service"))
		return
	}
	var req submitJobRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := parseReceipt(req.Receipt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	onChain := s.opts.OnChainDefault
	if req.CheckOnChain != nil {
		onChain = *req.CheckOnChain
	}
	job, err := s.opts.Jobs.Submit(r.Context(), jobs.SubmitRequest{ID: req.ID, Receipt: rc, CheckOnChain: onChain})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.opts.Jobs == nil {
		writeError(w, r, unavailable("job service"))
		return
	}
	job, err := s.opts.Jobs.Get(r.Context(), strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Jobs == nil {
		writeError(w, r, unavailable("job service"))
		return
	}
	list, err := s.opts.Jobs.List(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Jobs == nil {
		writeError(w, r, unavailable("job service"))
		return
	}
	stats, err := s.opts.Jobs.Stats(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func listOptionsFromQuery(r *http.Request) []jobs.ListOption {
	query := r.URL.Query()
	var opts []jobs.ListOption
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, jobs.WithLimit(parsed))
		}
	}
	if id := strings.TrimSpace(query.Get("receiptId")); id != "" {
		opts = append(opts, jobs.WithReceiptID(id))
	}
	var statuses []jobs.Status
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if status := jobs.Status(strings.TrimSpace(part)); jobs.IsValidStatus(status) {
				statuses = append(statuses, status)
			}
		}
	}
	if len(statuses) > 0 {
		opts = append(opts, jobs.WithStatuses(statuses...))
	}
	return opts
}
