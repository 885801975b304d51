package protocol

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// Service owns the protocols of the open trades of the local node, routes
// the inbound messages and the wallet notifications to them and exposes the
// local trade actions.
type Service struct {
	env         *environment
	repoManager ports.RepoManager
	dispatcher  *Dispatcher

	lock      sync.RWMutex
	protocols map[string]*TradeProtocol
	offers    map[string]domain.Offer

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewService(
	wallet ports.Wallet,
	messenger ports.Messenger,
	repoManager ports.RepoManager,
	publisher ports.EventPublisher,
	cfg Config,
) (*Service, error) {
	if wallet == nil {
		return nil, fmt.Errorf("missing wallet")
	}
	if messenger == nil {
		return nil, fmt.Errorf("missing messenger")
	}
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	svc := &Service{
		repoManager: repoManager,
		protocols:   make(map[string]*TradeProtocol),
		offers:      make(map[string]domain.Offer),
		quit:        make(chan struct{}),
	}
	svc.env = &environment{
		wallet:      wallet,
		messenger:   messenger,
		publisher:   publisher,
		persistence: newPersistenceQueue(repoManager.TradeRepository(), cfg.PersistInterval),
		txHandlers:  newTxNotificationQueue(),
		cfg:         cfg,

		onStateChange: svc.onStateChange,
	}
	svc.dispatcher = newDispatcher(svc)
	return svc, nil
}

// Start resumes the open trades found in the repository and starts listening
// for messages and wallet notifications.
func (s *Service) Start(ctx context.Context) error {
	s.env.persistence.start()

	trades, err := s.repoManager.TradeRepository().GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch open trades: %w", err)
	}

	s.wg.Add(1)
	go s.listenToTxNotifications()

	g, gctx := errgroup.WithContext(ctx)
	for _, trade := range trades {
		trade := trade
		g.Go(func() error {
			return s.resumeTrade(gctx, trade)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(trades) > 0 {
		log.Infof("resumed %d open trades", len(trades))
	}

	return s.env.messenger.Listen(s.dispatcher.Dispatch)
}

// Stop stops all protocols and persists pending changes.
func (s *Service) Stop(ctx context.Context) error {
	close(s.quit)

	s.lock.Lock()
	protocols := make([]*TradeProtocol, 0, len(s.protocols))
	for _, p := range s.protocols {
		protocols = append(protocols, p)
	}
	s.protocols = make(map[string]*TradeProtocol)
	s.lock.Unlock()

	var wg sync.WaitGroup
	for _, p := range protocols {
		wg.Add(1)
		go func(p *TradeProtocol) {
			defer wg.Done()
			p.stop()
		}(p)
	}
	wg.Wait()
	s.wg.Wait()

	return s.env.persistence.stop(ctx)
}

// Dispatcher returns the router of the inbound messages.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// PlaceOffer makes the given offer available to takers.
func (s *Service) PlaceOffer(ctx context.Context, offer domain.Offer) error {
	if err := offer.Validate(); err != nil {
		return err
	}
	if offer.MakerAddress != s.env.address() {
		return fmt.Errorf("%w: maker address must be the node one", domain.ErrInvalidOffer)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.protocols[offer.Id]; ok {
		return domain.ErrTradeAlreadyExists
	}
	s.offers[offer.Id] = offer
	log.WithField("trade_id", offer.Id).Infof("placed %s offer", offer.Direction)
	return nil
}

// RemoveOffer withdraws an offer. Trades already started are not affected.
func (s *Service) RemoveOffer(_ context.Context, offerId string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.offers[offerId]; !ok {
		return ErrOfferNotFound
	}
	delete(s.offers, offerId)
	return nil
}

// TakeOffer creates a taker trade for the given offer and starts its
// protocol. The returned trade is the one just created, the protocol goes
// on asynchronously.
func (s *Service) TakeOffer(ctx context.Context, offer domain.Offer) (*domain.Trade, error) {
	if offer.MakerAddress == s.env.address() {
		return nil, fmt.Errorf("%w: can't take own offer", domain.ErrInvalidOffer)
	}
	trade, err := domain.NewTrade(
		offer, offer.TakerRole(), offer.MakerAddress, s.env.cfg.MinerFee,
	)
	if err != nil {
		return nil, err
	}

	created := trade.Clone()
	p, err := s.addTrade(ctx, trade)
	if err != nil {
		return nil, err
	}
	if err := p.TakeOffer(); err != nil {
		return nil, err
	}
	return created, nil
}

// PaymentStarted confirms the buyer started the fiat payment and triggers
// the payout request.
func (s *Service) PaymentStarted(ctx context.Context, tradeId string) error {
	p, err := s.mustGetProtocol(tradeId)
	if err != nil {
		return err
	}
	return p.PaymentStarted(ctx)
}

// OpenDispute marks the trade as disputed.
func (s *Service) OpenDispute(ctx context.Context, tradeId string) error {
	p, err := s.mustGetProtocol(tradeId)
	if err != nil {
		return err
	}
	return p.OpenDispute(ctx)
}

// MarkWithdrawn moves a completed trade to the withdrawn state.
func (s *Service) MarkWithdrawn(ctx context.Context, tradeId string) error {
	var withdrawn *domain.Trade
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId, func(t *domain.Trade) (*domain.Trade, error) {
			if err := t.MarkWithdrawn(); err != nil {
				return nil, err
			}
			withdrawn = t
			return t, nil
		},
	); err != nil {
		return err
	}

	log.WithField("trade_id", tradeId).Info("trade funds withdrawn")
	s.env.publish(withdrawn)
	return nil
}

// GetTrade returns the trade with the given id.
func (s *Service) GetTrade(ctx context.Context, tradeId string) (*domain.Trade, error) {
	if p, ok := s.getProtocol(tradeId); ok {
		return p.Trade(), nil
	}
	return s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
}

// ListTrades returns all trades, live ones as of their last completed task.
func (s *Service) ListTrades(ctx context.Context) ([]*domain.Trade, error) {
	trades, err := s.repoManager.TradeRepository().GetAllTrades(ctx)
	if err != nil {
		return nil, err
	}
	for i, t := range trades {
		if p, ok := s.getProtocol(t.Id); ok {
			trades[i] = p.Trade()
		}
	}
	return trades, nil
}

// Flush persists all pending changes.
func (s *Service) Flush(ctx context.Context) error {
	return s.env.persistence.flush(ctx)
}

func (s *Service) addTrade(ctx context.Context, trade *domain.Trade) (*TradeProtocol, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.protocols[trade.Id]; ok {
		return nil, domain.ErrTradeAlreadyExists
	}
	if err := s.repoManager.TradeRepository().AddTrade(ctx, trade); err != nil {
		return nil, err
	}

	p := newTradeProtocol(trade, s.env)
	s.protocols[trade.Id] = p
	p.start()

	log.WithFields(log.Fields{
		"trade_id": trade.Id,
		"role":     trade.Role,
	}).Info("trade created")
	return p, nil
}

func (s *Service) resumeTrade(ctx context.Context, trade *domain.Trade) error {
	s.lock.Lock()
	p := newTradeProtocol(trade, s.env)
	s.protocols[trade.Id] = p
	s.lock.Unlock()

	p.start()
	return p.resume(ctx)
}

func (s *Service) getProtocol(tradeId string) (*TradeProtocol, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	p, ok := s.protocols[tradeId]
	return p, ok
}

func (s *Service) mustGetProtocol(tradeId string) (*TradeProtocol, error) {
	p, ok := s.getProtocol(tradeId)
	if !ok {
		if _, err := s.repoManager.TradeRepository().GetTrade(
			context.Background(), tradeId,
		); err != nil {
			return nil, err
		}
		return nil, domain.ErrTradeClosed
	}
	return p, nil
}

// acceptOffer creates the maker trade for the offer addressed by req.
func (s *Service) acceptOffer(req *domain.DepositInputsRequest) (*TradeProtocol, error) {
	s.lock.Lock()
	offer, ok := s.offers[req.GetTradeId()]
	s.lock.Unlock()
	if !ok {
		return nil, ErrOfferNotFound
	}

	trade, err := domain.NewTrade(
		offer, offer.MakerRole(), req.GetSender(), s.env.cfg.MinerFee,
	)
	if err != nil {
		return nil, err
	}
	return s.addTrade(context.Background(), trade)
}

// onStateChange is called by the protocol worker after every transition.
func (s *Service) onStateChange(p *TradeProtocol, trade *domain.Trade) {
	if trade.Role.IsMaker() && trade.IsDepositPublished() {
		s.lock.Lock()
		if _, ok := s.offers[trade.Id]; ok {
			delete(s.offers, trade.Id)
			log.WithField("trade_id", trade.Id).Debug("offer filled")
		}
		s.lock.Unlock()
	}

	if trade.IsClosed() {
		go s.removeProtocol(p)
	}
}

func (s *Service) removeProtocol(p *TradeProtocol) {
	id := p.snapshot.Load().Id

	s.lock.Lock()
	if s.protocols[id] == p {
		delete(s.protocols, id)
	}
	s.lock.Unlock()

	p.stop()
}

func (s *Service) listenToTxNotifications() {
	defer s.wg.Done()

	notifications := s.env.wallet.Notifications()
	for {
		select {
		case <-s.quit:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			s.env.txHandlers.dispatch(n)
		}
	}
}
