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

const (
	prefixReplica = "/api/v1/replica"
	prefixBank    = "/api/v1/bank"
)

// ReplicaBackend is everything a replica serves.
type ReplicaBackend interface {
	boneybank.ReplicaService
	boneybank.BankService
	Status() boneybank.ReplicaStatus
	Committed() []boneybank.Entry
}

type ackResponse struct {
	Ack bool `json:"ack"`
}

type recoverRequest struct {
	LastKnown boneybank.Seq `json:"lastKnown"`
}

type entriesResponse struct {
	Entries []boneybank.Entry `json:"entries"`
}

type bankRequest struct {
	Credentials boneybank.Credentials `json:"credentials"`
	Amount      float64               `json:"amount,omitempty"`
}

// ReplicaHandler serves the replica-to-replica endpoints.
type ReplicaHandler struct {
	chi.Router

	log *zap.Logger
	api *kithttp.API

	svc ReplicaBackend
}

// NewReplicaHandler returns a handler of svc.
func NewReplicaHandler(log *zap.Logger, svc ReplicaBackend) *ReplicaHandler {
	h := &ReplicaHandler{
		log: log,
		api: kithttp.NewAPI(kithttp.WithLog(log)),
		svc: svc,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/tentative", h.handleTentative)
	r.Post("/commit", h.handleCommit)
	r.Post("/recover", h.handleRecover)
	r.Post("/pending", h.handlePending)
	r.Get("/status", h.handleStatus)
	r.Get("/log", h.handleLog)

	h.Router = r
	return h
}

func (h *ReplicaHandler) Prefix() string {
	return prefixReplica
}

func (h *ReplicaHandler) handleTentative(w http.ResponseWriter, r *http.Request) {
	var req boneybank.TentativeRequest
	if err := h.api.DecodeJSON(r.Body, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	ack, err := h.svc.Tentative(r.Context(), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, ackResponse{Ack: ack})
}

func (h *ReplicaHandler) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req boneybank.CommitRequest
	if err := h.api.DecodeJSON(r.Body, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	ack, err := h.svc.Commit(r.Context(), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, ackResponse{Ack: ack})
}

func (h *ReplicaHandler) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := h.api.DecodeJSON(r.Body, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	entries, err := h.svc.RecoverState(r.Context(), req.LastKnown)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, entriesResponse{Entries: entries})
}

func (h *ReplicaHandler) handlePending(w http.ResponseWriter, r *http.Request) {
	var req boneybank.PendingRequest
	if err := h.api.DecodeJSON(r.Body, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	reply, err := h.svc.ListPending(r.Context(), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, reply)
}

func (h *ReplicaHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.api.Respond(w, r, http.StatusOK, h.svc.Status())
}

func (h *ReplicaHandler) handleLog(w http.ResponseWriter, r *http.Request) {
	h.api.Respond(w, r, http.StatusOK, entriesResponse{Entries: h.svc.Committed()})
}

// BankHandler serves the client-facing endpoints of a replica.
type BankHandler struct {
	chi.Router

	log *zap.Logger
	api *kithttp.API

	svc boneybank.BankService
}

// NewBankHandler returns a handler of svc.
func NewBankHandler(log *zap.Logger, svc boneybank.BankService) *BankHandler {
	h := &BankHandler{
		log: log,
		api: kithttp.NewAPI(kithttp.WithLog(log)),
		svc: svc,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/balance", h.handleReadBalance)
	r.Post("/deposit", h.handleDeposit)
	r.Post("/withdrawal", h.handleWithdrawal)

	h.Router = r
	return h
}

func (h *BankHandler) Prefix() string {
	return prefixBank
}

func (h *BankHandler) decode(w http.ResponseWriter, r *http.Request) (bankRequest, bool) {
	var req bankRequest
	if err := h.api.DecodeJSON(r.Body, &req); err != nil {
		h.api.Err(w, r, err)
		return req, false
	}
	return req, true
}

func (h *BankHandler) handleReadBalance(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	reply, err := h.svc.ReadBalance(r.Context(), req.Credentials)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, reply)
}

func (h *BankHandler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	reply, err := h.svc.Deposit(r.Context(), req.Credentials, req.Amount)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, reply)
}

func (h *BankHandler) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	reply, err := h.svc.Withdrawal(r.Context(), req.Credentials, req.Amount)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, reply)
}

// ReplicaClient calls a replica. It implements both the replica-to-replica
// and the client-facing surfaces.
type ReplicaClient struct {
	*Client
}

var (
	_ boneybank.ReplicaService = (*ReplicaClient)(nil)
	_ boneybank.BankService    = (*ReplicaClient)(nil)
)

func (c *ReplicaClient) Tentative(ctx context.Context, req boneybank.TentativeRequest) (bool, error) {
	var resp ackResponse
	if err := c.call(ctx, http.MethodPost, prefixReplica+"/tentative", req, &resp); err != nil {
		return false, err
	}
	return resp.Ack, nil
}

func (c *ReplicaClient) Commit(ctx context.Context, req boneybank.CommitRequest) (bool, error) {
	var resp ackResponse
	if err := c.call(ctx, http.MethodPost, prefixReplica+"/commit", req, &resp); err != nil {
		return false, err
	}
	return resp.Ack, nil
}

func (c *ReplicaClient) RecoverState(ctx context.Context, lastKnown boneybank.Seq) ([]boneybank.Entry, error) {
	var resp entriesResponse
	if err := c.call(ctx, http.MethodPost, prefixReplica+"/recover", recoverRequest{LastKnown: lastKnown}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *ReplicaClient) ListPending(ctx context.Context, req boneybank.PendingRequest) (*boneybank.PendingReply, error) {
	reply := new(boneybank.PendingReply)
	if err := c.call(ctx, http.MethodPost, prefixReplica+"/pending", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Status returns the replica's status. It is not retried.
func (c *ReplicaClient) Status(ctx context.Context) (*boneybank.ReplicaStatus, error) {
	status := new(boneybank.ReplicaStatus)
	if err := c.do(ctx, http.MethodGet, prefixReplica+"/status", nil, status); err != nil {
		return nil, err
	}
	return status, nil
}

// Log returns the replica's committed log. It is not retried.
func (c *ReplicaClient) Log(ctx context.Context) ([]boneybank.Entry, error) {
	var resp entriesResponse
	if err := c.do(ctx, http.MethodGet, prefixReplica+"/log", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *ReplicaClient) ReadBalance(ctx context.Context, cred boneybank.Credentials) (*boneybank.BalanceReply, error) {
	reply := new(boneybank.BalanceReply)
	if err := c.call(ctx, http.MethodPost, prefixBank+"/balance", bankRequest{Credentials: cred}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *ReplicaClient) Deposit(ctx context.Context, cred boneybank.Credentials, amount float64) (*boneybank.BalanceReply, error) {
	reply := new(boneybank.BalanceReply)
	if err := c.call(ctx, http.MethodPost, prefixBank+"/deposit", bankRequest{Credentials: cred, Amount: amount}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *ReplicaClient) Withdrawal(ctx context.Context, cred boneybank.Credentials, amount float64) (*boneybank.WithdrawalReply, error) {
	reply := new(boneybank.WithdrawalReply)
	if err := c.call(ctx, http.MethodPost, prefixBank+"/withdrawal", bankRequest{Credentials: cred, Amount: amount}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
