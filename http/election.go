package http

import (
	"context"
	"net/http"

	"github.com/boneybank/boneybank"
	kithttp "github.com/boneybank/boneybank/kit/transport/http"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

const prefixElection = "/api/v1/election"

// ElectionBackend is everything an election node serves.
type ElectionBackend interface {
	boneybank.ElectionService
	boneybank.Acceptor
	Decisions() map[boneybank.Slot]boneybank.NodeID
}

type resolveRequest struct {
	Slot  boneybank.Slot   `json:"slot"`
	Guess boneybank.NodeID `json:"guess"`
}

type resolveResponse struct {
	Primary boneybank.NodeID `json:"primary"`
}

type decisionsResponse struct {
	Decisions map[boneybank.Slot]boneybank.NodeID `json:"decisions"`
}

// ElectionHandler serves the election and acceptor endpoints.
type ElectionHandler struct {
	chi.Router

	log *zap.Logger
	api *kithttp.API

	svc ElectionBackend
}

// NewElectionHandler returns a handler of svc.
func NewElectionHandler(log *zap.Logger, svc ElectionBackend) *ElectionHandler {
	h := &ElectionHandler{
		log: log,
		api: kithttp.NewAPI(kithttp.WithLog(log)),
		svc: svc,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/resolve", h.handleResolve)
	r.Post("/prepare", h.handlePrepare)
	r.Post("/propose", h.handlePropose)
	r.Post("/commit", h.handleCommit)
	r.Get("/decisions", h.handleDecisions)

	h.Router = r
	return h
}

func (h *ElectionHandler) Prefix() string {
	return prefixElection
}

func (h *ElectionHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := h.api.DecodeJSON(r.Body, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	primary, err := h.svc.Resolve(r.Context(), req.Slot, req.Guess)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, resolveResponse{Primary: primary})
}

func (h *ElectionHandler) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req boneybank.PrepareRequest
	if err := h.api.DecodeJSON(r.Body, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	reply, err := h.svc.Prepare(r.Context(), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, reply)
}

func (h *ElectionHandler) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req boneybank.ProposeRequest
	if err := h.api.DecodeJSON(r.Body, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	reply, err := h.svc.Propose(r.Context(), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, reply)
}

func (h *ElectionHandler) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req boneybank.DecisionRequest
	if err := h.api.DecodeJSON(r.Body, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	reply, err := h.svc.Commit(r.Context(), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, reply)
}

func (h *ElectionHandler) handleDecisions(w http.ResponseWriter, r *http.Request) {
	h.api.Respond(w, r, http.StatusOK, decisionsResponse{Decisions: h.svc.Decisions()})
}

// ElectionClient calls an election node.
type ElectionClient struct {
	*Client
}

var (
	_ boneybank.ElectionService = (*ElectionClient)(nil)
	_ boneybank.Acceptor        = (*ElectionClient)(nil)
)

// Resolve asks the node for the primary of slot.
func (c *ElectionClient) Resolve(ctx context.Context, slot boneybank.Slot, guess boneybank.NodeID) (boneybank.NodeID, error) {
	var resp resolveResponse
	err := c.call(ctx, http.MethodPost, prefixElection+"/resolve", resolveRequest{Slot: slot, Guess: guess}, &resp)
	if err != nil {
		return boneybank.NoNode, err
	}
	return resp.Primary, nil
}

func (c *ElectionClient) Prepare(ctx context.Context, req boneybank.PrepareRequest) (*boneybank.PrepareReply, error) {
	reply := new(boneybank.PrepareReply)
	if err := c.call(ctx, http.MethodPost, prefixElection+"/prepare", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *ElectionClient) Propose(ctx context.Context, req boneybank.ProposeRequest) (*boneybank.AcceptorReply, error) {
	reply := new(boneybank.AcceptorReply)
	if err := c.call(ctx, http.MethodPost, prefixElection+"/propose", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *ElectionClient) Commit(ctx context.Context, req boneybank.DecisionRequest) (*boneybank.AcceptorReply, error) {
	reply := new(boneybank.AcceptorReply)
	if err := c.call(ctx, http.MethodPost, prefixElection+"/commit", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Decisions returns the slots the node knows as decided.
func (c *ElectionClient) Decisions(ctx context.Context) (map[boneybank.Slot]boneybank.NodeID, error) {
	var resp decisionsResponse
	if err := c.call(ctx, http.MethodGet, prefixElection+"/decisions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Decisions, nil
}
