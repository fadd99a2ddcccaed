package peers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/crypto/bls"
)

// NodeSet is the set of validator nodes of a pool. Blacklisted nodes are kept
// apart and never addressed.
type NodeSet struct {
	Nodes       []*RemoteNode          `json:"nodes"`
	Blacklisted []*RemoteNode          `json:"blacklisted,omitempty"`
	ByName      map[string]*RemoteNode `json:"-"`

	//cached values
	hash string
}

// NewNodeSet creates a NodeSet from a list of nodes. The order of the non
// blacklisted nodes is preserved.
func NewNodeSet(nodes []*RemoteNode) *NodeSet {
	nodeSet := &NodeSet{
		ByName: make(map[string]*RemoteNode),
	}

	for _, n := range nodes {
		if n.Blacklisted {
			nodeSet.Blacklisted = append(nodeSet.Blacklisted, n)
			continue
		}
		nodeSet.Nodes = append(nodeSet.Nodes, n)
		nodeSet.ByName[n.Name] = n
	}

	return nodeSet
}

// Len returns the number of validators.
func (ns *NodeSet) Len() int {
	return len(ns.Nodes)
}

// F is the number of faulty nodes the pool tolerates.
func (ns *NodeSet) F() int {
	if ns.Len() == 0 {
		return 0
	}
	return (ns.Len() - 1) / 3
}

// Quorum is the number of matching replies needed to trust a result, f+1.
func (ns *NodeSet) Quorum() int {
	return ns.F() + 1
}

// Names returns the node names in set order.
func (ns *NodeSet) Names() []string {
	res := make([]string, 0, len(ns.Nodes))
	for _, n := range ns.Nodes {
		res = append(res, n.Name)
	}
	return res
}

// Hash uniquely identifies the validators of a NodeSet, regardless of their
// order. Two sets with the same hash address the same nodes with the same
// keys.
func (ns *NodeSet) Hash() string {
	if ns.hash == "" {
		entries := make([]string, 0, len(ns.Nodes))
		for _, n := range ns.Nodes {
			entries = append(entries, strings.Join([]string{n.Name, n.Address, n.VerKey}, "|"))
		}
		sort.Strings(entries)
		ns.hash = crypto.SHA256Hex([]byte(strings.Join(entries, "\n")))
	}
	return ns.hash
}

// Equal compares the validators of two sets.
func (ns *NodeSet) Equal(other *NodeSet) bool {
	if ns == nil || other == nil {
		return ns == other
	}
	return ns.Hash() == other.Hash()
}

// BLSKeys returns the BLS keys of the named participants. Unknown nodes or
// nodes without a BLS key are an error.
func (ns *NodeSet) BLSKeys(names []string) ([]bls.PublicKey, error) {
	res := make([]bls.PublicKey, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("duplicate participant %s", name)
		}
		seen[name] = true
		n, ok := ns.ByName[name]
		if !ok {
			return nil, fmt.Errorf("unknown participant %s", name)
		}
		if n.BLSPublicKey().IsZero() {
			return nil, fmt.Errorf("participant %s has no BLS key", name)
		}
		res = append(res, n.BLSPublicKey())
	}
	return res, nil
}

// Marshal marshals the node set.
func (ns *NodeSet) Marshal() ([]byte, error) {
	return json.Marshal(ns)
}
