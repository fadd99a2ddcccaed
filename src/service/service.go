package service

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/pool"
	"github.com/mosaicnetworks/indypool/src/request"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
)

// maxBody bounds the size of a submitted request.
const maxBody = 1 << 20

// Service exposes the pools of a registry over HTTP.
type Service struct {
	bindAddress string
	registry    *pool.Registry
	timeout     time.Duration
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, registry *pool.Registry, timeout time.Duration, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		registry:    registry,
		timeout:     timeout,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering pool API handlers")
	s.mux.HandleFunc("/pools", s.makeHandler(s.GetPools))
	s.mux.HandleFunc("/pools/", s.makeHandler(s.routePool))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving pool API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// PoolInfo is an entry of GET /pools.
type PoolInfo struct {
	Handle pool.Handle `json:"handle"`
	Name   string      `json:"name"`
	State  string      `json:"state"`
	Nodes  int         `json:"nodes"`
}

// GetPools ...
func (s *Service) GetPools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := []PoolInfo{}
	for _, h := range s.registry.Handles() {
		p, err := s.registry.Get(h)
		if err != nil {
			continue
		}
		infos = append(infos, PoolInfo{
			Handle: h,
			Name:   p.Name(),
			State:  p.GetState().String(),
			Nodes:  p.Nodes().Len(),
		})
	}

	writeJSON(w, infos)
}

// routePool dispatches /pools/{handle}/{action}.
func (s *Service) routePool(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path[len("/pools/"):], "/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}

	h, err := pool.ParseHandle(parts[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.registry.Get(h)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "stats":
		s.GetStats(w, r, p)
	case "nodes":
		s.GetNodes(w, r, p)
	case "submit":
		s.Submit(w, r, p)
	default:
		http.NotFound(w, r)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request, p *pool.Pool) {
	writeJSON(w, p.Stats())
}

// GetNodes ...
func (s *Service) GetNodes(w http.ResponseWriter, r *http.Request, p *pool.Pool) {
	writeJSON(w, p.Nodes())
}

// Submit forwards the request in the body and returns the agreed reply. An
// action returns the reply of every node; the nodes query parameter, a comma
// separated list, restricts it.
func (s *Service) Submit(w http.ResponseWriter, r *http.Request, p *pool.Pool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, err := wire.ProbeRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if request.KindOf(info.Type) == request.Action {
		var nodes []string
		if n := r.URL.Query().Get("nodes"); n != "" {
			nodes = strings.Split(n, ",")
		}
		replies, err := p.SubmitAction(ctx, body, nodes, 0)
		if err != nil {
			s.fail(w, info.ReqID, err)
			return
		}
		writeJSON(w, replies)
		return
	}

	reply, err := p.Submit(ctx, body)
	if err != nil {
		s.fail(w, info.ReqID, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(reply)
}

// ErrorReply is the body of a failed submission.
type ErrorReply struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

func (s *Service) fail(w http.ResponseWriter, reqID uint64, err error) {
	s.logger.WithFields(logrus.Fields{
		"req_id": reqID,
		"error":  err,
	}).Error("Submit")

	kind, _ := common.KindOf(err)
	reason := err.Error()
	if r, ok := common.RejectionReason(err); ok {
		reason = r
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOf(err))
	json.NewEncoder(w).Encode(ErrorReply{Kind: kind.String(), Reason: reason})
}

func statusOf(err error) int {
	kind, ok := common.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case common.InvalidTransaction:
		return http.StatusBadRequest
	case common.LedgerRejection:
		return http.StatusConflict
	case common.PoolNotOpen, common.PoolClosed:
		return http.StatusServiceUnavailable
	case common.PoolTimeout:
		return http.StatusGatewayTimeout
	case common.IOError, common.InvalidStateProof:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(v)
}
