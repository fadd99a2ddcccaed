package sim

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/crypto/bls"
	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/proof"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
)

// TrusteeSeed is the seed of the trustee DID written in the domain genesis.
const TrusteeSeed = "000000000000000000000000Trustee1"

// Fault is the misbehaviour of a validator.
type Fault int

const (
	// Honest validators answer correctly.
	Honest Fault = iota
	// Silent validators never answer.
	Silent
	// Nacking validators reject every request.
	Nacking
	// CorruptProof validators flip a byte of the multi-signatures they send.
	CorruptProof
	// Divergent validators report other seqNos for writes and other results
	// for reads.
	Divergent
)

// Validator is a simulated node.
type Validator struct {
	Name     string
	Address  string
	signKey  ed25519.PrivateKey
	blsKey   bls.SecretKey
	blsPub   bls.PublicKey
	fault    Fault
	received int
	demoted  bool
}

// Verkey returns the base58 verification key of the node.
func (v *Validator) Verkey() string {
	return keys.Verkey(keys.PublicKey(v.signKey))
}

// Pool is a simulated validator pool.
type Pool struct {
	sync.Mutex

	validators []*Validator
	byName     map[string]*Validator
	ledgers    map[int]*ledger
	state      *stateTree
	applied    map[string]json.RawMessage
	genesis    []json.RawMessage
	transports []*net.InmemTransport
	trustee    string
	taa        *taa

	now    func() time.Time
	logger *logrus.Entry
}

// NewPool creates a pool of n validators. Their NODE transactions form the
// genesis of the pool ledger; the domain ledger starts with a trustee NYM.
func NewPool(n int, logger *logrus.Entry) (*Pool, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	p := &Pool{
		byName:  make(map[string]*Validator),
		ledgers: make(map[int]*ledger),
		state:   newStateTree(),
		applied: make(map[string]json.RawMessage),
		now:     time.Now,
		logger:  logger,
	}
	for _, id := range []int{wire.PoolLedger, wire.DomainLedger, wire.ConfigLedger} {
		p.ledgers[id] = newLedger()
	}

	for i := 0; i < n; i++ {
		if _, err := p.addValidator(fmt.Sprintf("Node%d", i+1)); err != nil {
			return nil, err
		}
	}
	p.genesis = append(p.genesis, p.ledgers[wire.PoolLedger].txns...)

	priv, err := keys.KeyFromSeed([]byte(TrusteeSeed))
	if err != nil {
		return nil, err
	}
	pub := keys.PublicKey(priv)
	p.trustee = keys.DID(pub)
	op := map[string]interface{}{
		"type":   wire.NYM,
		"dest":   p.trustee,
		"verkey": keys.Verkey(pub),
		"role":   "0",
	}
	seqNo, txnTime, err := p.appendTxn(wire.DomainLedger, buildTxn(op, map[string]interface{}{}), nil)
	if err != nil {
		return nil, err
	}
	if err := p.applyState("", op, seqNo, txnTime); err != nil {
		return nil, err
	}

	return p, nil
}

// SetClock replaces the source of txn times.
func (p *Pool) SetClock(now func() time.Time) {
	p.Lock()
	defer p.Unlock()
	p.now = now
}

func (p *Pool) txnTime() uint64 {
	return uint64(p.now().Unix())
}

func (p *Pool) addValidator(name string) (*Validator, error) {
	if _, ok := p.byName[name]; ok {
		return nil, fmt.Errorf("validator %s already exists", name)
	}
	priv, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}
	sk, pk := bls.GenerateKey()

	port := 9702 + 2*len(p.validators)
	v := &Validator{
		Name:    name,
		Address: "127.0.0.1:" + strconv.Itoa(port),
		signKey: priv,
		blsKey:  sk,
		blsPub:  pk,
	}
	p.validators = append(p.validators, v)
	p.byName[name] = v

	if err := p.appendNodeTxn(v, []string{wire.ServiceValidator}); err != nil {
		return nil, err
	}

	for _, t := range p.transports {
		t.Connect(v.Address, &endpoint{pool: p, validator: v})
	}

	return v, nil
}

func (p *Pool) appendNodeTxn(v *Validator, services []string) error {
	host, port := splitAddress(v.Address)
	_, err := p.ledgers[wire.PoolLedger].append(map[string]interface{}{
		"type": wire.NODE,
		"data": map[string]interface{}{
			"data": map[string]interface{}{
				"alias":       v.Name,
				"blskey":      v.blsPub.String(),
				"client_ip":   host,
				"client_port": port,
				"node_ip":     host,
				"node_port":   port - 1,
				"services":    services,
			},
			"dest": v.Verkey(),
		},
		"metadata": map[string]interface{}{
			"from": "Th7MpTaRZVRYnPiabds81Y",
		},
	}, nil, p.txnTime())
	return err
}

func splitAddress(addr string) (string, int) {
	i := strings.LastIndexByte(addr, ':')
	port, _ := strconv.Atoi(addr[i+1:])
	return addr[:i], port
}

// AddValidator appends the NODE transaction of a new validator to the pool
// ledger and makes it reachable.
func (p *Pool) AddValidator(name string) error {
	p.Lock()
	defer p.Unlock()
	_, err := p.addValidator(name)
	return err
}

// DemoteValidator appends a NODE transaction removing the VALIDATOR service
// of a node. It keeps answering.
func (p *Pool) DemoteValidator(name string) error {
	p.Lock()
	defer p.Unlock()
	v, ok := p.byName[name]
	if !ok {
		return fmt.Errorf("unknown validator %s", name)
	}
	v.demoted = true
	return p.appendNodeTxn(v, []string{})
}

// Connect makes the validators reachable through a transport.
func (p *Pool) Connect(trans *net.InmemTransport) {
	p.Lock()
	defer p.Unlock()
	p.transports = append(p.transports, trans)
	for _, v := range p.validators {
		trans.Connect(v.Address, &endpoint{pool: p, validator: v})
	}
}

// Disconnect makes a validator unreachable.
func (p *Pool) Disconnect(name string) {
	p.Lock()
	defer p.Unlock()
	if v, ok := p.byName[name]; ok {
		for _, t := range p.transports {
			t.Disconnect(v.Address)
		}
	}
}

// SetFault ...
func (p *Pool) SetFault(name string, f Fault) {
	p.Lock()
	defer p.Unlock()
	if v, ok := p.byName[name]; ok {
		v.fault = f
	}
}

// Received is the number of frames a validator received.
func (p *Pool) Received(name string) int {
	p.Lock()
	defer p.Unlock()
	if v, ok := p.byName[name]; ok {
		return v.received
	}
	return 0
}

// Validators returns the names of the validators, in order of addition.
func (p *Pool) Validators() []string {
	p.Lock()
	defer p.Unlock()
	res := make([]string, 0, len(p.validators))
	for _, v := range p.validators {
		res = append(res, v.Name)
	}
	return res
}

// Genesis returns the pool genesis file: the NODE transactions the pool was
// created with, one per line.
func (p *Pool) Genesis() []byte {
	p.Lock()
	defer p.Unlock()
	var buf bytes.Buffer
	for _, txn := range p.genesis {
		buf.Write(txn)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// LedgerSize ...
func (p *Pool) LedgerSize(ledgerID int) uint64 {
	p.Lock()
	defer p.Unlock()
	if l, ok := p.ledgers[ledgerID]; ok {
		return l.tree.Size()
	}
	return 0
}

// LedgerRoot returns the base58 Merkle root of a ledger.
func (p *Pool) LedgerRoot(ledgerID int) string {
	p.Lock()
	defer p.Unlock()
	if l, ok := p.ledgers[ledgerID]; ok {
		return crypto.Base58Encode(l.tree.Root())
	}
	return ""
}

// Trustee returns the DID of the genesis trustee.
func (p *Pool) Trustee() string {
	return p.trustee
}

// signers returns the validators signing state proofs: the first n-f
// validators of the genesis that are not demoted.
func (p *Pool) signers() []proof.Participant {
	active := 0
	for _, v := range p.validators {
		if !v.demoted {
			active++
		}
	}
	want := active - (active-1)/3
	var res []proof.Participant
	for _, v := range p.validators[:len(p.genesis)] {
		if len(res) == want {
			break
		}
		if v.demoted || v.fault == CorruptProof {
			continue
		}
		res = append(res, proof.Participant{Name: v.Name, Key: v.blsKey})
	}
	return res
}

type endpoint struct {
	pool      *Pool
	validator *Validator
}

// Receive implements net.InmemEndpoint. Replies are computed under the pool
// lock and sent after it is released.
func (e *endpoint) Receive(from net.InmemClient, frame []byte, reply func([]byte)) {
	e.pool.Lock()
	e.validator.received++
	replies := e.pool.handle(e.validator, frame)
	e.pool.Unlock()

	for _, r := range replies {
		reply(r)
	}
}
