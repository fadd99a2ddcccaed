package peers

import (
	"fmt"

	"github.com/mosaicnetworks/indypool/src/crypto/bls"
	"github.com/mosaicnetworks/indypool/src/crypto/keys"
)

// RemoteNode is a validator descriptor. It is immutable once constructed;
// node-list changes replace the whole NodeSet.
type RemoteNode struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	VerKey      string `json:"verkey"`
	BLSKey      string `json:"blskey,omitempty"`
	Blacklisted bool   `json:"blacklisted"`

	transportKey []byte
	blsKey       bls.PublicKey
}

// NewRemoteNode validates the keys of a node and derives its CurveZMQ server
// key. An empty blsKey is accepted; such a node can never take part in a
// verified state proof.
func NewRemoteNode(name, address, verkey, blsKey string, blacklisted bool) (*RemoteNode, error) {
	pub, err := keys.ParseVerkey(verkey)
	if err != nil {
		return nil, fmt.Errorf("node %s: %v", name, err)
	}

	transportKey, err := keys.EdPublicToCurve(pub)
	if err != nil {
		return nil, fmt.Errorf("node %s: %v", name, err)
	}

	node := &RemoteNode{
		Name:         name,
		Address:      address,
		VerKey:       verkey,
		BLSKey:       blsKey,
		Blacklisted:  blacklisted,
		transportKey: transportKey,
	}

	if blsKey != "" {
		node.blsKey, err = bls.ParsePublicKey(blsKey)
		if err != nil {
			return nil, fmt.Errorf("node %s: %v", name, err)
		}
	}

	return node, nil
}

// TransportKey returns the X25519 CurveZMQ server key of the node.
func (n *RemoteNode) TransportKey() []byte {
	return n.transportKey
}

// BLSPublicKey returns the parsed BLS key, which may be zero.
func (n *RemoteNode) BLSPublicKey() bls.PublicKey {
	return n.blsKey
}

// String ...
func (n *RemoteNode) String() string {
	return fmt.Sprintf("%s(%s)", n.Name, n.Address)
}
