// Package inmem connects boneybank nodes that run in one process. It is
// used by simulation tests in place of the HTTP transport.
package inmem

import (
	"fmt"
	"sync"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/kit/platform/errors"
	"github.com/boneybank/boneybank/pkg/retry"
)

// ElectionNode is the service set of an election node.
type ElectionNode interface {
	boneybank.ElectionService
	boneybank.Acceptor
}

// ReplicaNode is the service set of a replica.
type ReplicaNode interface {
	boneybank.ReplicaService
	boneybank.BankService
}

// Network routes calls to registered nodes. Calls that fail with
// EUnavailable are retried according to Retry. A disconnected node fails
// every call made to it.
type Network struct {
	mu        sync.RWMutex
	elections map[boneybank.NodeID]ElectionNode
	replicas  map[boneybank.NodeID]ReplicaNode
	down      map[boneybank.NodeID]bool

	Retry retry.Policy
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		elections: make(map[boneybank.NodeID]ElectionNode),
		replicas:  make(map[boneybank.NodeID]ReplicaNode),
		down:      make(map[boneybank.NodeID]bool),
		Retry:     retry.NewPolicy(),
	}
}

// AddElection registers an election node.
func (n *Network) AddElection(id boneybank.NodeID, node ElectionNode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.elections[id] = node
}

// AddReplica registers a replica.
func (n *Network) AddReplica(id boneybank.NodeID, node ReplicaNode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replicas[id] = node
}

// Disconnect makes every call to id fail until Reconnect.
func (n *Network) Disconnect(id boneybank.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[id] = true
}

// Reconnect undoes Disconnect.
func (n *Network) Reconnect(id boneybank.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.down, id)
}

func unreachable(id boneybank.NodeID) error {
	return &errors.Error{Code: errors.EInternal, Msg: fmt.Sprintf("node %s is unreachable", id)}
}

func (n *Network) election(id boneybank.NodeID) (ElectionNode, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.elections[id]
	if !ok || n.down[id] {
		return nil, unreachable(id)
	}
	return node, nil
}

func (n *Network) replica(id boneybank.NodeID) (ReplicaNode, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.replicas[id]
	if !ok || n.down[id] {
		return nil, unreachable(id)
	}
	return node, nil
}

// Election returns a client of the election service of node id.
func (n *Network) Election(id boneybank.NodeID) boneybank.ElectionService {
	return &electionClient{network: n, id: id}
}

// Acceptor returns a client of the acceptor of node id.
func (n *Network) Acceptor(id boneybank.NodeID) boneybank.Acceptor {
	return &electionClient{network: n, id: id}
}

// Replica returns a client of the replica service of node id.
func (n *Network) Replica(id boneybank.NodeID) boneybank.ReplicaService {
	return &replicaClient{network: n, id: id}
}

// Bank returns a client of the bank service of node id.
func (n *Network) Bank(id boneybank.NodeID) boneybank.BankService {
	return &replicaClient{network: n, id: id}
}

// Acceptors returns clients for the acceptors of ids.
func (n *Network) Acceptors(ids []boneybank.NodeID) map[boneybank.NodeID]boneybank.Acceptor {
	out := make(map[boneybank.NodeID]boneybank.Acceptor, len(ids))
	for _, id := range ids {
		out[id] = n.Acceptor(id)
	}
	return out
}

// Elections returns clients for the election services of ids.
func (n *Network) Elections(ids []boneybank.NodeID) []boneybank.ElectionService {
	out := make([]boneybank.ElectionService, 0, len(ids))
	for _, id := range ids {
		out = append(out, n.Election(id))
	}
	return out
}

// Replicas returns clients for the replica services of ids.
func (n *Network) Replicas(ids []boneybank.NodeID) map[boneybank.NodeID]boneybank.ReplicaService {
	out := make(map[boneybank.NodeID]boneybank.ReplicaService, len(ids))
	for _, id := range ids {
		out[id] = n.Replica(id)
	}
	return out
}
