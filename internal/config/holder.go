package config

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/connector/internal/pipeline"
)

// ErrUnknownToken is returned for tokens outside the accepted set.
var ErrUnknownToken = errors.New("unknown security token")

// Holder gives components read access to the current configuration. A
// reload swaps the whole value; readers never see a partial update.
type Holder struct {
	cfg atomic.Pointer[Config]
}

func NewHolder(cfg Config) *Holder {
	h := &Holder{}
	h.cfg.Store(&cfg)
	return h
}

// Current returns the active configuration.
func (h *Holder) Current() Config {
	return *h.cfg.Load()
}

// Replace installs cfg if it is valid.
func (h *Holder) Replace(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.cfg.Store(&cfg)
	slog.Info("configuration replaced", "connector_id", cfg.ConnectorID)
	return nil
}

func (h *Holder) ConnectorID() string { return h.cfg.Load().ConnectorID }

func (h *Holder) CurrentToken() string { return h.cfg.Load().Token }

func (h *Holder) AllowUnsupported() bool { return h.cfg.Load().AllowUnsupported }

// VerifyToken maps an inbound token to its claims.
func (h *Holder) VerifyToken(_ context.Context, token string) (pipeline.Claims, error) {
	cfg := h.cfg.Load()
	if len(cfg.AcceptedTokens) == 0 {
		return pipeline.Claims{SecurityProfile: cfg.DefaultProfile}, nil
	}
	profile, ok := cfg.AcceptedTokens[token]
	if !ok {
		return pipeline.Claims{}, ErrUnknownToken
	}
	if profile == "" {
		profile = cfg.DefaultProfile
	}
	return pipeline.Claims{SecurityProfile: profile}, nil
}
