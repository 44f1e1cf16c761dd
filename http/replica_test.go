package http_test

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/http"
	"github.com/boneybank/boneybank/kit/platform/errors"
	"github.com/boneybank/boneybank/kit/prom/promtest"
	"github.com/boneybank/boneybank/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fastRetry = retry.Policy{Interval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

// fakeReplica answers with canned values. Tentative is unavailable for the
// first frozenCalls calls.
type fakeReplica struct {
	mu          sync.Mutex
	frozenCalls int
	tentative   []boneybank.TentativeRequest
	balance     float64
}

func (f *fakeReplica) Tentative(ctx context.Context, req boneybank.TentativeRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozenCalls > 0 {
		f.frozenCalls--
		return false, errors.Unavailable("replication.Tentative")
	}
	f.tentative = append(f.tentative, req)
	if req.Seq > 100 {
		return false, &errors.Error{Code: errors.EGap, Op: "replication.Tentative", Msg: "missing commits"}
	}
	return req.Primary == 4, nil
}

func (f *fakeReplica) Commit(ctx context.Context, req boneybank.CommitRequest) (bool, error) {
	return req.Seq == 1, nil
}

func (f *fakeReplica) RecoverState(ctx context.Context, lastKnown boneybank.Seq) ([]boneybank.Entry, error) {
	return []boneybank.Entry{{
		Seq:     lastKnown + 1,
		Command: boneybank.Command{ID: boneybank.CommandID{ClientID: 1, ClientSeq: 1}, Kind: boneybank.OpDeposit, Amount: 10},
	}}, nil
}

func (f *fakeReplica) ListPending(ctx context.Context, req boneybank.PendingRequest) (*boneybank.PendingReply, error) {
	if req.Primary != 4 {
		return nil, &errors.Error{Code: errors.EConflict, Msg: "not primary"}
	}
	return &boneybank.PendingReply{
		Tentative: []boneybank.PendingEntry{{Seq: 3, CommandID: boneybank.CommandID{ClientID: 2, ClientSeq: 1}}},
		LastSeq:   3,
	}, nil
}

func (f *fakeReplica) ReadBalance(ctx context.Context, cred boneybank.Credentials) (*boneybank.BalanceReply, error) {
	return &boneybank.BalanceReply{Balance: f.balance, Role: boneybank.RoleBackup}, nil
}

func (f *fakeReplica) Deposit(ctx context.Context, cred boneybank.Credentials, amount float64) (*boneybank.BalanceReply, error) {
	if amount < 0 {
		return nil, errors.Invalid("replication.Deposit", "amount %g is negative", amount)
	}
	f.balance += amount
	return &boneybank.BalanceReply{Balance: f.balance, Role: boneybank.RolePrimary}, nil
}

func (f *fakeReplica) Withdrawal(ctx context.Context, cred boneybank.Credentials, amount float64) (*boneybank.WithdrawalReply, error) {
	return &boneybank.WithdrawalReply{Withdrawn: 0, Balance: f.balance, Role: boneybank.RolePrimary}, nil
}

func (f *fakeReplica) Status() boneybank.ReplicaStatus {
	return boneybank.ReplicaStatus{ID: 4, Slot: 2, Primary: 4, Balance: f.balance, CommittedSeq: 7}
}

func (f *fakeReplica) Committed() []boneybank.Entry {
	return []boneybank.Entry{{Seq: 1, Command: boneybank.Command{Kind: boneybank.OpReadBalance}}}
}

func newReplicaServer(t *testing.T, f *fakeReplica) (*http.ReplicaClient, *httptest.Server) {
	t.Helper()
	log := zaptest.NewLogger(t)
	router := http.NewRouter(log, "replica", prometheus.NewRegistry(),
		http.NewReplicaHandler(log, f),
		http.NewBankHandler(log, f),
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &http.ReplicaClient{Client: http.NewClient(srv.URL, fastRetry)}, srv
}

func TestReplicaClient_RetriesUnavailable(t *testing.T) {
	f := &fakeReplica{frozenCalls: 3}
	c, _ := newReplicaServer(t, f)

	ack, err := c.Tentative(context.Background(), boneybank.TentativeRequest{
		Seq:       5,
		Slot:      2,
		Primary:   4,
		CommandID: boneybank.CommandID{ClientID: 9, ClientSeq: 1},
	})
	require.NoError(t, err)
	require.True(t, ack)
	require.Equal(t, 0, f.frozenCalls)
	require.Len(t, f.tentative, 1)
	require.Equal(t, boneybank.Seq(5), f.tentative[0].Seq)
}

func TestReplicaClient_GapIsNotRetried(t *testing.T) {
	f := &fakeReplica{}
	c, _ := newReplicaServer(t, f)

	ack, err := c.Tentative(context.Background(), boneybank.TentativeRequest{Seq: 101, Slot: 2, Primary: 4})
	require.False(t, ack)
	require.Equal(t, errors.EGap, errors.ErrorCode(err))
	require.Equal(t, "missing commits", errors.ErrorMessage(err))
	require.Len(t, f.tentative, 1)
}

func TestReplicaClient_GivesUpWithContext(t *testing.T) {
	f := &fakeReplica{frozenCalls: 1 << 30}
	c, _ := newReplicaServer(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Tentative(ctx, boneybank.TentativeRequest{Seq: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReplicaClient_Surfaces(t *testing.T) {
	f := &fakeReplica{}
	c, _ := newReplicaServer(t, f)
	ctx := context.Background()

	ack, err := c.Commit(ctx, boneybank.CommitRequest{Seq: 1, Slot: 1, Primary: 4})
	require.NoError(t, err)
	require.True(t, ack)

	entries, err := c.RecoverState(ctx, 6)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, boneybank.Seq(7), entries[0].Seq)
	require.Equal(t, boneybank.OpDeposit, entries[0].Command.Kind)

	pending, err := c.ListPending(ctx, boneybank.PendingRequest{Slot: 2, Primary: 4})
	require.NoError(t, err)
	require.Equal(t, boneybank.Seq(3), pending.LastSeq)
	require.Len(t, pending.Tentative, 1)

	_, err = c.ListPending(ctx, boneybank.PendingRequest{Slot: 2, Primary: 5})
	require.Equal(t, errors.EConflict, errors.ErrorCode(err))

	status, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, boneybank.Seq(7), status.CommittedSeq)

	log, err := c.Log(ctx)
	require.NoError(t, err)
	require.Len(t, log, 1)
}

func TestBankClient(t *testing.T) {
	f := &fakeReplica{}
	c, _ := newReplicaServer(t, f)
	ctx := context.Background()
	cred := boneybank.Credentials{ClientID: 1, SequenceNumber: 1}

	dep, err := c.Deposit(ctx, cred, 50)
	require.NoError(t, err)
	require.Equal(t, 50.0, dep.Balance)
	require.Equal(t, boneybank.RolePrimary, dep.Role)

	_, err = c.Deposit(ctx, cred, -1)
	require.Equal(t, errors.EInvalid, errors.ErrorCode(err))

	bal, err := c.ReadBalance(ctx, cred)
	require.NoError(t, err)
	require.Equal(t, 50.0, bal.Balance)
	require.Equal(t, boneybank.RoleBackup, bal.Role)

	wd, err := c.Withdrawal(ctx, cred, 80)
	require.NoError(t, err)
	require.Zero(t, wd.Withdrawn)
}

func TestRouter_MetricsAndHealth(t *testing.T) {
	f := &fakeReplica{}
	c, srv := newReplicaServer(t, f)
	_, err := c.ReadBalance(context.Background(), boneybank.Credentials{ClientID: 1})
	require.NoError(t, err)

	resp, err := nethttp.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	resp, err = nethttp.Get(srv.URL + http.MetricsPath)
	require.NoError(t, err)
	mfs, err := promtest.FromHTTPResponse(resp)
	require.NoError(t, err)
	m := promtest.MustFindMetric(t, mfs, "boneybank_http_requests_total", map[string]string{
		"handler": "replica",
		"path":    "/api/v1/bank/balance",
		"status":  "2XX",
	})
	require.Equal(t, float64(1), promtest.Value(m))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(nethttp.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := &http.ReplicaClient{Client: http.NewClient(addr, fastRetry)}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Commit(ctx, boneybank.CommitRequest{Seq: 1})
	require.Error(t, err)
}
