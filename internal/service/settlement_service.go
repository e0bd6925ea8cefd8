package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// SettlementService performs purchases and owns every value movement that
// follows a terminal listing transition.
//
// A purchase first wins the listing with the conditional active -> sold
// transition, then completes a fixed sequence of ledger steps. Each step is
// keyed by the listing id, so completion can run any number of times (from
// Purchase, or later from the sweeper's repair pass) and applies each
// movement exactly once. The listing is marked finalized only after the
// last step.
type SettlementService struct {
	listings     domain.ListingStore
	transactions domain.TransactionStore
	ledger       domain.Ledger
	config       ConfigSource
	trades       *TradeAggregator
	events       eventSink
	audit        domain.AuditStore
	alerter      Alerter
	retry        RetryPolicy
	now          Clock
	logger       *slog.Logger
}

// NewSettlementService creates a SettlementService with all required dependencies.
func NewSettlementService(
	listings domain.ListingStore,
	transactions domain.TransactionStore,
	ledger domain.Ledger,
	config ConfigSource,
	trades *TradeAggregator,
	events domain.EventPublisher,
	audit domain.AuditStore,
	retry RetryPolicy,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		listings:     listings,
		transactions: transactions,
		ledger:       ledger,
		config:       config,
		trades:       trades,
		events:       eventSink{events: events, logger: logger},
		audit:        audit,
		alerter:      nopAlerter{},
		retry:        retry,
		now:          systemClock,
		logger:       logger,
	}
}

// WithAlerter attaches the operator alert channel used for stuck settlements.
func (s *SettlementService) WithAlerter(a Alerter) *SettlementService {
	if a != nil {
		s.alerter = a
	}
	return s
}

// WithClock replaces the service clock.
func (s *SettlementService) WithClock(c Clock) *SettlementService {
	s.now = c
	return s
}

// Purchase buys listingID for buyerID at the listed price.
func (s *SettlementService) Purchase(ctx context.Context, buyerID, listingID string) (domain.Transaction, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("settlement: purchase: %w", err)
	}
	if !cfg.Enabled {
		return domain.Transaction{}, domain.ErrMarketplaceDisabled
	}
	if buyerID == "" || listingID == "" {
		return domain.Transaction{}, fmt.Errorf("settlement: purchase: missing buyer or listing: %w", domain.ErrInvalidArgument)
	}

	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("settlement: purchase %s: %w", listingID, err)
	}
	if l.SellerID == buyerID {
		return domain.Transaction{}, fmt.Errorf("settlement: purchase %s: own listing: %w", listingID, domain.ErrForbidden)
	}
	now := s.now()
	if !l.Open(now) {
		return domain.Transaction{}, fmt.Errorf("settlement: purchase %s: %w", listingID, domain.ErrNotActive)
	}

	balance, err := s.ledger.Balance(ctx, buyerID, l.CurrencyID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("settlement: purchase %s: balance: %w", listingID, err)
	}
	if balance < l.Price {
		return domain.Transaction{}, fmt.Errorf("settlement: purchase %s: have %d, need %d: %w",
			listingID, balance, l.Price, domain.ErrInsufficientFunds)
	}

	commission := cfg.Commission(l.Price)
	won, err := s.listings.Transition(ctx, l.ID, domain.ListingTransition{
		From:       domain.ListingStatusActive,
		To:         domain.ListingStatusSold,
		At:         now,
		BuyerID:    buyerID,
		Commission: commission,
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("settlement: purchase %s: transition: %w", listingID, err)
	}
	if !won {
		return domain.Transaction{}, fmt.Errorf("settlement: purchase %s: lost race: %w", listingID, domain.ErrNotActive)
	}

	l.Status = domain.ListingStatusSold
	l.BuyerID = buyerID
	l.Commission = commission
	l.SoldAt = &now

	s.logger.InfoContext(ctx, "listing sold",
		slog.String("listing_id", l.ID),
		slog.String("buyer_id", buyerID),
		slog.Int64("price", l.Price),
		slog.Int64("commission", commission),
	)
	return s.CompleteSettlement(ctx, l)
}

// CompleteSettlement drives a sold listing to finalized. It is safe to call
// repeatedly for the same listing.
//
// The item is escrowed first (a no-op when CreateListing already did it).
// If the seller no longer holds an unescrowed item the sale is withdrawn and
// domain.ErrItemNotFound is returned. If the buyer's debit is refused for
// lack of funds nothing has moved yet: the listing goes back to active and
// domain.ErrInsufficientFunds is returned. Any other failure that outlasts
// the retry policy leaves the sale committed but unfinished and returns
// domain.ErrSettlementPending.
func (s *SettlementService) CompleteSettlement(ctx context.Context, l domain.Listing) (domain.Transaction, error) {
	if l.Status != domain.ListingStatusSold || l.SoldAt == nil {
		return domain.Transaction{}, fmt.Errorf("settlement: complete %s: status %s: %w", l.ID, l.Status, domain.ErrInvalidArgument)
	}
	sellerReceived := l.Price - l.Commission

	if _, err := s.escrow(ctx, l); err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			if werr := s.withdraw(ctx, l); werr != nil {
				return domain.Transaction{}, s.stuck(ctx, l, "withdraw", werr)
			}
			return domain.Transaction{}, fmt.Errorf("settlement: complete %s: escrow: %w", l.ID, err)
		}
		return domain.Transaction{}, s.stuck(ctx, l, "escrow", err)
	}

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.ledger.Debit(ctx, l.BuyerID, l.Price, l.CurrencyID, domain.DebitOpKey(l.ID))
	})
	if errors.Is(err, domain.ErrInsufficientFunds) {
		reverted, cerr := s.compensate(ctx, l)
		if cerr != nil {
			return domain.Transaction{}, s.stuck(ctx, l, "compensate", cerr)
		}
		if reverted {
			return domain.Transaction{}, fmt.Errorf("settlement: complete %s: debit: %w", l.ID, domain.ErrInsufficientFunds)
		}
		// Another completion of this sale debited the buyer in the meantime.
		err = nil
	}
	if err != nil {
		return domain.Transaction{}, s.stuck(ctx, l, "debit", err)
	}

	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.ledger.Credit(ctx, l.SellerID, sellerReceived, l.CurrencyID, domain.CreditOpKey(l.ID))
	})
	if err != nil {
		return domain.Transaction{}, s.stuck(ctx, l, "credit", err)
	}

	item := listingItem(l)
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.ledger.AddItem(ctx, l.BuyerID, item, domain.DeliverOpKey(l.ID))
	})
	if err != nil {
		return domain.Transaction{}, s.stuck(ctx, l, "deliver", err)
	}

	tx, err := s.recordTransaction(ctx, l, sellerReceived)
	if err != nil {
		return domain.Transaction{}, s.stuck(ctx, l, "record", err)
	}

	if err := s.finalize(ctx, l); err != nil {
		return domain.Transaction{}, s.stuck(ctx, l, "finalize", err)
	}

	ev := listingEvent(l, domain.CloseReasonSold, domain.TradeSideSale)
	ev.Item = &item
	s.events.toPlayer(ctx, l.SellerID, domain.EventListingClosed, ev)
	s.events.toPlayer(ctx, l.BuyerID, domain.EventRequestClosed, domain.ListingEvent{
		ListingID:        l.ID,
		SellerID:         l.SellerID,
		BuyerID:          l.BuyerID,
		ItemDefinitionID: l.ItemDefinitionID,
		ItemInstanceID:   l.ItemInstanceID,
		Price:            l.Price,
		CurrencyID:       l.CurrencyID,
		Reason:           domain.CloseReasonSold,
		Side:             domain.TradeSidePurchase,
		Item:             &item,
	})
	topic := domain.TradeTopic(l.ItemDefinitionID)
	s.events.toTopic(ctx, topic, domain.EventTradeClosed, listingEvent(l, domain.CloseReasonSold, domain.TradeSideSale))
	s.events.toTopic(ctx, topic, domain.EventTradeClosed, listingEvent(l, domain.CloseReasonSold, domain.TradeSidePurchase))
	s.trades.PublishTradeUpdate(ctx, l.ItemDefinitionID)

	return tx, nil
}

func (s *SettlementService) recordTransaction(ctx context.Context, l domain.Listing, sellerReceived int64) (domain.Transaction, error) {
	tx := domain.Transaction{
		ID:               uuid.NewString(),
		ListingID:        l.ID,
		SellerID:         l.SellerID,
		BuyerID:          l.BuyerID,
		ItemDefinitionID: l.ItemDefinitionID,
		ItemInstanceID:   l.ItemInstanceID,
		Price:            l.Price,
		Commission:       l.Commission,
		SellerReceived:   sellerReceived,
		CurrencyID:       l.CurrencyID,
		CompletedAt:      s.now(),
	}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.transactions.Insert(ctx, tx)
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Recorded by an earlier attempt.
		return s.transactions.GetByListing(ctx, l.ID)
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// compensate reverts sold -> active while the buyer's debit has not
// applied. It reports false, leaving the sale in place, once it has.
func (s *SettlementService) compensate(ctx context.Context, l domain.Listing) (bool, error) {
	debited, err := s.ledger.Applied(ctx, l.BuyerID, domain.DebitOpKey(l.ID))
	if err != nil {
		return false, err
	}
	if debited {
		return false, nil
	}
	reverted, err := s.listings.Transition(ctx, l.ID, domain.ListingTransition{
		From: domain.ListingStatusSold,
		To:   domain.ListingStatusActive,
		At:   s.now(),
	})
	if err != nil {
		return false, err
	}
	if !reverted {
		return false, fmt.Errorf("listing %s no longer revertible", l.ID)
	}
	s.logger.WarnContext(ctx, "sale reverted, buyer funds gone before debit",
		slog.String("listing_id", l.ID),
		slog.String("buyer_id", l.BuyerID),
	)
	return true, nil
}

// withdraw cancels a sale whose item never reached escrow. Nothing has
// moved, so the listing is finalized straight away.
func (s *SettlementService) withdraw(ctx context.Context, l domain.Listing) error {
	ok, err := s.listings.Transition(ctx, l.ID, domain.ListingTransition{
		From: domain.ListingStatusSold,
		To:   domain.ListingStatusCancelled,
		At:   s.now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("listing %s no longer sold", l.ID)
	}
	s.logger.WarnContext(ctx, "sale withdrawn, item left the seller before escrow",
		slog.String("listing_id", l.ID),
		slog.String("seller_id", l.SellerID),
	)
	return s.finalize(ctx, l)
}

// escrow takes the listed instance from the seller under the listing's
// escrow key. Replays return the instance removed the first time.
func (s *SettlementService) escrow(ctx context.Context, l domain.Listing) (domain.ItemInstance, error) {
	var item domain.ItemInstance
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.ledger.RemoveItem(ctx, l.SellerID, l.ItemInstanceID, domain.EscrowOpKey(l.ID))
		return err
	})
	return item, err
}

// CompleteReturn gives a cancelled or expired listing's item back to the
// seller and marks the listing finalized. Safe to call repeatedly. A
// listing whose item never reached escrow owes nothing and is only
// finalized.
func (s *SettlementService) CompleteReturn(ctx context.Context, l domain.Listing) error {
	if l.Status != domain.ListingStatusCancelled && l.Status != domain.ListingStatusExpired {
		return fmt.Errorf("settlement: return %s: status %s: %w", l.ID, l.Status, domain.ErrInvalidArgument)
	}
	_, err := s.escrow(ctx, l)
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		// Never escrowed and no longer held by the seller.
	case err != nil:
		return s.stuck(ctx, l, "escrow", err)
	default:
		err = s.retry.Do(ctx, func(ctx context.Context) error {
			return s.ledger.AddItem(ctx, l.SellerID, listingItem(l), domain.ReturnOpKey(l.ID))
		})
		if err != nil {
			return s.stuck(ctx, l, "return_item", err)
		}
	}
	if err := s.finalize(ctx, l); err != nil {
		return s.stuck(ctx, l, "finalize", err)
	}
	return nil
}

// Finalize completes whatever the listing's terminal state still owes.
func (s *SettlementService) Finalize(ctx context.Context, l domain.Listing) error {
	switch l.Status {
	case domain.ListingStatusSold:
		_, err := s.CompleteSettlement(ctx, l)
		return err
	case domain.ListingStatusCancelled, domain.ListingStatusExpired:
		return s.CompleteReturn(ctx, l)
	}
	return fmt.Errorf("settlement: finalize %s: status %s: %w", l.ID, l.Status, domain.ErrInvalidArgument)
}

func (s *SettlementService) finalize(ctx context.Context, l domain.Listing) error {
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return s.listings.MarkFinalized(ctx, l.ID, s.now())
	})
}

// stuck records an unfinished settlement for operators and the repair pass.
func (s *SettlementService) stuck(ctx context.Context, l domain.Listing, step string, cause error) error {
	s.logger.ErrorContext(ctx, "settlement stuck",
		slog.String("listing_id", l.ID),
		slog.String("status", string(l.Status)),
		slog.String("step", step),
		slog.String("error", cause.Error()),
	)
	detail := map[string]any{
		"listing_id": l.ID,
		"status":     string(l.Status),
		"seller_id":  l.SellerID,
		"buyer_id":   l.BuyerID,
		"price":      l.Price,
		"step":       step,
		"error":      cause.Error(),
	}
	s.record(ctx, domain.EventSettlementStuck, detail)
	if err := s.alerter.Alert(ctx, domain.EventSettlementStuck, detail); err != nil {
		s.logger.WarnContext(ctx, "settlement alert failed", slog.String("error", err.Error()))
	}

	ev := listingEvent(l, "", "")
	s.events.toPlayer(ctx, l.SellerID, domain.EventSettlementStuck, ev)
	s.events.toPlayer(ctx, l.BuyerID, domain.EventSettlementStuck, ev)

	// The cause is kept as text so the pending state is what callers see.
	return fmt.Errorf("settlement: listing %s step %s: %w (%v)", l.ID, step, domain.ErrSettlementPending, cause)
}

func (s *SettlementService) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
