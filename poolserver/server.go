// Package poolserver exposes the mixer over HTTP for external collaborators
// (bots, operator tooling). It is a thin JSON surface over the core: pool
// introspection plus mix submission.
package poolserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logrus "github.com/sirupsen/logrus"

	"solmix/core"
)

// Server wires the HTTP routes over the mixer and pool.
type Server struct {
	mixer  *core.Mixer
	pool   *core.WalletPool
	store  core.WalletStore
	logger *logrus.Logger
	mixCfg *core.MixConfig
}

// New builds the server; mixCfg is the per-request default, overridable per
// call.
func New(mixer *core.Mixer, pool *core.WalletPool, store core.WalletStore, mixCfg *core.MixConfig, lg *logrus.Logger) *Server {
	return &Server{mixer: mixer, pool: pool, store: store, logger: lg, mixCfg: mixCfg}
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Route("/pool", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/wallets", s.handleWallets)
	})
	r.Post("/mix", s.handleMix)
	return r
}

// ListenAndServe blocks serving the router on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Infof("poolserver: listening on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.pool.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// walletView is the wire shape of one pool wallet. The encrypted secret never
// leaves the store.
type walletView struct {
	PublicKey   string     `json:"public_key"`
	Status      string     `json:"status"`
	AllocatedTo string     `json:"allocated_to,omitempty"`
	UsageCount  uint64     `json:"usage_count"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	filter := core.WalletStatus(r.URL.Query().Get("status"))
	ws, err := s.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]walletView, 0, len(ws))
	for _, hw := range ws {
		out = append(out, walletView{
			PublicKey:   hw.PublicKey.String(),
			Status:      string(hw.Status),
			AllocatedTo: hw.AllocatedTo,
			UsageCount:  hw.UsageCount,
			LastUsed:    hw.LastUsed,
			CreatedAt:   hw.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// mixPayload is the POST /mix body.
type mixPayload struct {
	SourceSecret    string   `json:"source_secret"`
	FeeSourceSecret string   `json:"fee_source_secret,omitempty"`
	TotalAmount     uint64   `json:"total_amount"`
	Destinations    []string `json:"destinations"`
	CustomAmounts   []uint64 `json:"custom_amounts,omitempty"`
	HopCount        int      `json:"hop_count,omitempty"`
	MaxConcurrent   int      `json:"max_concurrent_routes,omitempty"`
}

func (s *Server) handleMix(w http.ResponseWriter, r *http.Request) {
	var body mixPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := buildRequest(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg := *s.mixCfg
	if body.HopCount > 0 {
		cfg.HopCount = body.HopCount
	}
	if body.MaxConcurrent > 0 {
		cfg.MaxConcurrentRoutes = body.MaxConcurrent
	}

	res, err := s.mixer.RunMix(r.Context(), req, &cfg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, core.ErrPartialFailure):
		writeJSON(w, http.StatusMultiStatus, res)
	case errors.Is(err, core.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, core.ErrInsufficientPool), errors.Is(err, core.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func buildRequest(body *mixPayload) (*core.MixRequest, error) {
	src, err := solana.PrivateKeyFromBase58(body.SourceSecret)
	if err != nil {
		return nil, errors.New("source_secret is not a valid base58 private key")
	}
	req := &core.MixRequest{
		SourceSecret:  src,
		TotalAmount:   body.TotalAmount,
		CustomAmounts: body.CustomAmounts,
	}
	if body.FeeSourceSecret != "" {
		fee, err := solana.PrivateKeyFromBase58(body.FeeSourceSecret)
		if err != nil {
			return nil, errors.New("fee_source_secret is not a valid base58 private key")
		}
		req.FeeSourceSecret = fee
	}
	for _, d := range body.Destinations {
		pk, err := solana.PublicKeyFromBase58(d)
		if err != nil {
			return nil, errors.New("destination " + d + " is not a valid base58 address")
		}
		req.Destinations = append(req.Destinations, pk)
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
