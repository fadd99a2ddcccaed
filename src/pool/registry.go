package pool

import (
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/mosaicnetworks/indypool/src/common"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Handle is the opaque key of a pool in a Registry.
type Handle int32

// String ...
func (h Handle) String() string {
	return strconv.Itoa(int(h))
}

// ParseHandle reads a handle from its decimal form.
func ParseHandle(s string) (Handle, error) {
	i, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, common.WrapPoolErr(common.InvalidTransaction, err, "invalid pool handle")
	}
	return Handle(i), nil
}

// Registry maps handles to open pools. It is safe for concurrent use.
type Registry struct {
	last  int32
	pools *cmap.ConcurrentMap[string, *Pool]
}

// NewRegistry ...
func NewRegistry() *Registry {
	m := cmap.New[*Pool]()
	return &Registry{
		pools: &m,
	}
}

// Register stores p under a new handle.
func (r *Registry) Register(p *Pool) Handle {
	h := Handle(atomic.AddInt32(&r.last, 1))
	r.pools.Set(h.String(), p)
	return h
}

// Get returns the pool of a handle.
func (r *Registry) Get(h Handle) (*Pool, error) {
	p, ok := r.pools.Get(h.String())
	if !ok {
		return nil, common.NewPoolErrf(common.PoolNotOpen, "unknown pool handle %d", h)
	}
	return p, nil
}

// Remove drops a handle from the registry and closes its pool.
func (r *Registry) Remove(h Handle) error {
	p, ok := r.pools.Pop(h.String())
	if !ok {
		return common.NewPoolErrf(common.PoolNotOpen, "unknown pool handle %d", h)
	}
	return p.Close()
}

// Handles returns the registered handles in increasing order.
func (r *Registry) Handles() []Handle {
	keys := r.pools.Keys()
	res := make([]Handle, 0, len(keys))
	for _, k := range keys {
		h, err := ParseHandle(k)
		if err != nil {
			continue
		}
		res = append(res, h)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Close closes every registered pool and returns the first error.
func (r *Registry) Close() error {
	var first error
	for _, h := range r.Handles() {
		if err := r.Remove(h); err != nil && first == nil {
			first = err
		}
	}
	return first
}
