package api

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentReceipt/internal/errors"
)

type anchorListResponse struct {
	Writer     string   `json:"writer"`
	ReceiptIDs []string `json:"receiptIds"`
	Total      uint64   `json:"total"`
}

func (s *Server) handleGetAnchor(w http.ResponseWriter, r *http.Request) {
	if s.opts.Anchorer == nil {
		writeError(w, r, unavailable("anchor ledger"))
		return
	}
	id := strings.TrimSpace(r.PathValue("receiptId"))
	record, err := s.opts.Anchorer.Ledger().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !record.Exists() {
		writeError(w, r, xerrors.New(xerrors.CodeNotFound, "receipt is not anchored",
			xerrors.WithMetadata("receiptId", id)))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListAnchors(w http.ResponseWriter, r *http.Request) {
	if s.opts.Anchorer == nil {
		writeError(w, r, unavailable("anchor ledger"))
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("writer"))
	if !common.IsHexAddress(raw) {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidInput, "writer must be a hex address"))
		return
	}
	writer := common.HexToAddress(raw)
	ctx := r.Context()
	ids, err := s.opts.Anchorer.Ledger().ListByWriter(ctx, writer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.opts.Anchorer.Ledger().Count(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, anchorListResponse{Writer: writer.Hex(), ReceiptIDs: ids, Total: total})
}
