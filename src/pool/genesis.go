package pool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"strconv"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ParseGenesis returns the NODE transactions of a genesis file, one JSON
// object per line. Other lines are skipped with a warning.
func ParseGenesis(data []byte, logger *logrus.Entry) ([]json.RawMessage, error) {
	var txns []json.RawMessage

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		l := bytes.TrimSpace(scanner.Bytes())
		if len(l) == 0 {
			continue
		}
		if !gjson.ValidBytes(l) {
			logger.WithField("line", line).Warn("Skipping invalid genesis line")
			continue
		}
		if t := nodeTxn(l); !t.Exists() {
			logger.WithField("line", line).Warn("Skipping genesis line without NODE transaction")
			continue
		}
		txns = append(txns, append(json.RawMessage{}, l...))
	}
	if err := scanner.Err(); err != nil {
		return nil, common.WrapPoolErr(common.ConfigError, err, "reading genesis")
	}
	if len(txns) == 0 {
		return nil, common.NewPoolErr(common.ConfigError, "genesis has no NODE transactions")
	}
	return txns, nil
}

// nodeTxn returns the {data, dest} part of a NODE transaction in either
// shape: v1 nests it under txn.data, v0 keeps it at the top level.
func nodeTxn(txn []byte) gjson.Result {
	res := gjson.ParseBytes(txn)
	if inner := res.Get("txn"); inner.Exists() {
		if inner.Get("type").String() != wire.NODE {
			return gjson.Result{}
		}
		return inner.Get("data")
	}
	if res.Get("type").String() != wire.NODE {
		return gjson.Result{}
	}
	return res
}

type nodeInfo struct {
	dest       string
	alias      string
	clientIP   string
	clientPort int64
	blsKey     string
	services   []string
}

func (n *nodeInfo) update(data gjson.Result) {
	if v := data.Get("alias"); v.Exists() {
		n.alias = v.String()
	}
	if v := data.Get("client_ip"); v.Exists() {
		n.clientIP = v.String()
	}
	if v := data.Get("client_port"); v.Exists() {
		n.clientPort = v.Int()
	}
	if v := data.Get("blskey"); v.Exists() {
		n.blsKey = v.String()
	}
	if v := data.Get("services"); v.Exists() {
		n.services = n.services[:0]
		for _, s := range v.Array() {
			n.services = append(n.services, s.String())
		}
	}
}

func (n *nodeInfo) isValidator() bool {
	for _, s := range n.services {
		if s == wire.ServiceValidator {
			return true
		}
	}
	return false
}

// BuildNodeSet folds NODE transactions by dest: later transactions update
// the fields they carry, and a node whose services do not include VALIDATOR
// is blacklisted.
func BuildNodeSet(txns []json.RawMessage, logger *logrus.Entry) (*peers.NodeSet, error) {
	var order []string
	infos := make(map[string]*nodeInfo)

	for _, txn := range txns {
		t := nodeTxn(txn)
		dest := t.Get("dest").String()
		if dest == "" {
			logger.Warn("Skipping NODE transaction without dest")
			continue
		}
		info, ok := infos[dest]
		if !ok {
			info = &nodeInfo{dest: dest}
			infos[dest] = info
			order = append(order, dest)
		}
		info.update(t.Get("data"))
	}

	nodes := make([]*peers.RemoteNode, 0, len(order))
	for _, dest := range order {
		info := infos[dest]
		if info.alias == "" || info.clientIP == "" || info.clientPort == 0 {
			logger.WithField("dest", dest).Warn("Skipping incomplete node")
			continue
		}
		address := net.JoinHostPort(info.clientIP, strconv.FormatInt(info.clientPort, 10))
		node, err := peers.NewRemoteNode(info.alias, address, info.dest, info.blsKey, !info.isValidator())
		if err != nil {
			return nil, common.WrapPoolErr(common.ConfigError, err, "invalid node")
		}
		nodes = append(nodes, node)
	}

	ns := peers.NewNodeSet(nodes)
	if ns.Len() == 0 {
		return nil, common.NewPoolErr(common.ConfigError, "no validator nodes")
	}
	return ns, nil
}
