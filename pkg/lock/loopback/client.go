package loopback

import (
	"github.com/marmos91/dittolock/pkg/lock"
	"github.com/marmos91/dittolock/pkg/lock/remote"
)

// NewClient wires a lock manager to s through a remote gateway, starts it
// and connects it. metrics may be nil.
func (s *Server) NewClient(cfg lock.Config, gwCfg remote.Config, metrics *lock.Metrics) (*lock.Manager, error) {
	gwCfg.ClientID = cfg.ClientID
	gw := remote.NewGateway(s, s, gwCfg, metrics)

	m := lock.NewManager(gw, cfg, metrics)
	m.Start()
	if err := s.Connect(cfg.ClientID, m, gw); err != nil {
		m.Shutdown()
		return nil, err
	}
	return m, nil
}
