package chainbridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/evchannel/core/pkg/engine"
	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/kvdb"
)

// keyLastBlock is the KV key the poller persists its last-processed
// block height under. Grounded on teacher pkg/ledger/store.go's
// keyIntentLastBlock / SaveIntentLastBlock / LoadIntentLastBlock, which
// does the same bookkeeping for Accumulate block discovery; here it
// tracks Ethereum log polling instead.
var keyLastBlock = []byte("chainbridge:last_block")

// Poller repeatedly fetches chain-bridge signals since the last
// processed block height and feeds them to an Ingester (normally an
// *engine.Engine). It is single-writer: Poll must not be called
// concurrently from two goroutines, matching teacher's own note that
// LedgerStore's intent-discovery bookkeeping assumes a single caller.
type Poller struct {
	client   Client
	kv       kvdb.KV
	ingester Ingester
	logger   *log.Logger
}

// NewPoller builds a Poller over a chain client, the durable KV boundary
// for height bookkeeping, and the engine to feed.
func NewPoller(client Client, kv kvdb.KV, ingester Ingester, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.New(log.Writer(), "[ChainBridge] ", log.LstdFlags)
	}
	return &Poller{client: client, kv: kv, ingester: ingester, logger: logger}
}

func (p *Poller) lastBlock() (uint64, error) {
	b, err := p.kv.Get(keyLastBlock)
	if err != nil {
		return 0, fmt.Errorf("chainbridge: load last block: %w", err)
	}
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("chainbridge: corrupt last block height (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func (p *Poller) saveLastBlock(height uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return p.kv.Set(keyLastBlock, b)
}

// Poll fetches every signal kind in (lastProcessed, latest] and ingests
// each as its corresponding event payload, then advances the persisted
// height. A failure partway through leaves the height unadvanced so the
// next call retries the same range — ingestion is idempotent because
// the engine dedupes by the event's content-addressed id, and Poll skips
// any signal the engine rejects with engine.ErrDuplicateEvent.
func (p *Poller) Poll(ctx context.Context, nowMillis int64) error {
	from, err := p.lastBlock()
	if err != nil {
		return err
	}
	to, err := p.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("chainbridge: block number: %w", err)
	}
	if to <= from {
		return nil
	}

	deposits, err := p.client.DepositsSince(ctx, from+1, to)
	if err != nil {
		return fmt.Errorf("chainbridge: deposits: %w", err)
	}
	for _, d := range deposits {
		if _, err := p.ingester.IngestCollaboratorEvent(event.DepositDetectedPayload{
			ChannelID: d.ChannelID, Depositor: d.Depositor, Asset: d.Asset,
			Amount: event.Decimal(d.Amount.String()), TxHash: d.TxHash,
		}, nowMillis); err != nil && !errors.Is(err, engine.ErrDuplicateEvent) {
			return fmt.Errorf("chainbridge: ingest deposit: %w", err)
		}
	}

	challenges, err := p.client.ChallengesSince(ctx, from+1, to)
	if err != nil {
		return fmt.Errorf("chainbridge: challenges: %w", err)
	}
	for _, c := range challenges {
		if c.Cleared {
			_, err = p.ingester.IngestCollaboratorEvent(event.ChallengeClearedPayload{ChannelID: c.ChannelID, TurnNum: c.TurnNum}, nowMillis)
		} else {
			_, err = p.ingester.IngestCollaboratorEvent(event.ChallengeRegisteredPayload{
				ChannelID: c.ChannelID, Challenger: c.Challenger, TurnNum: c.TurnNum, ExpiresAt: c.ExpiresAt,
			}, nowMillis)
		}
		if err != nil && !errors.Is(err, engine.ErrDuplicateEvent) {
			return fmt.Errorf("chainbridge: ingest challenge: %w", err)
		}
	}

	conclusions, err := p.client.ConclusionsSince(ctx, from+1, to)
	if err != nil {
		return fmt.Errorf("chainbridge: conclusions: %w", err)
	}
	for _, c := range conclusions {
		if _, err := p.ingester.IngestCollaboratorEvent(event.ChannelConcludedPayload{
			ChannelID: c.ChannelID, FinalTurn: c.FinalTurn, FinalStateHash: c.FinalStateHash,
		}, nowMillis); err != nil && !errors.Is(err, engine.ErrDuplicateEvent) {
			return fmt.Errorf("chainbridge: ingest conclusion: %w", err)
		}
	}

	withdrawals, err := p.client.WithdrawalsSince(ctx, from+1, to)
	if err != nil {
		return fmt.Errorf("chainbridge: withdrawals: %w", err)
	}
	for _, w := range withdrawals {
		if _, err := p.ingester.IngestCollaboratorEvent(event.WithdrawCompletedPayload{
			ChannelID: w.ChannelID, Destination: w.Destination, Asset: w.Asset,
			Amount: event.Decimal(w.Amount.String()), TxHash: w.TxHash,
		}, nowMillis); err != nil && !errors.Is(err, engine.ErrDuplicateEvent) {
			return fmt.Errorf("chainbridge: ingest withdrawal: %w", err)
		}
	}

	if err := p.saveLastBlock(to); err != nil {
		return fmt.Errorf("chainbridge: save last block: %w", err)
	}
	p.logger.Printf("processed blocks %d..%d: %d deposits, %d challenges, %d conclusions, %d withdrawals",
		from+1, to, len(deposits), len(challenges), len(conclusions), len(withdrawals))
	return nil
}

// Run polls on a fixed interval until ctx is cancelled, matching
// teacher main.go's ticker-driven background loops. now supplies the
// event timestamp for each poll tick — the poller never calls
// time.Now itself, keeping it deterministic and testable like the rest
// of the core (event.New's own convention).
func (p *Poller) Run(ctx context.Context, interval time.Duration, now func() int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx, now()); err != nil {
				p.logger.Printf("poll error: %v", err)
			}
		}
	}
}
