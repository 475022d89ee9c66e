package postgres

import (
	"context"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// Store bundles every PostgreSQL-backed store over one Client.
type Store struct {
	client    *Client
	markets   *MarketStore
	trades    *TradeStore
	baselines *BaselineStore
	anomalies *AnomalyStore
	traders   *TraderProfileStore
	audit     *AuditStore
}

// NewStore builds the store bundle. Migrations must already have run.
func NewStore(c *Client) *Store {
	pool := c.Pool()
	return &Store{
		client:    c,
		markets:   NewMarketStore(pool),
		trades:    NewTradeStore(pool),
		baselines: NewBaselineStore(pool),
		anomalies: NewAnomalyStore(pool),
		traders:   NewTraderProfileStore(pool),
		audit:     NewAuditStore(pool),
	}
}

func (s *Store) Markets() domain.MarketStore { return s.markets }
func (s *Store) Trades() domain.TradeStore { return s.trades }
func (s *Store) Baselines() domain.BaselineStore { return s.baselines }
func (s *Store) Anomalies() domain.AnomalyStore { return s.anomalies }
func (s *Store) Traders() domain.TraderProfileStore { return s.traders }
func (s *Store) Audit() domain.AuditStore { return s.audit }

// Ping checks the pool can reach the server.
func (s *Store) Ping(ctx context.Context) error { return s.client.Pool().Ping(ctx) }

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

var _ domain.Store = (*Store)(nil)
