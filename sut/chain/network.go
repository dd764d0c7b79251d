package chain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
	"golang.org/x/crypto/sha3"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/util"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

// sendFailures are the errors a healthy chain returns at random.
var sendFailures = []load.ErrorKind{
	load.ErrorKindTimeout,
	load.ErrorKindInsufficientFunds,
	load.ErrorKindNonceTooLow,
	load.ErrorKindGasPriceTooLow,
	load.ErrorKindExecutionReverted,
}

// Tx is a transaction sent to a simulated chain.
type Tx struct {
	From   string
	To     string
	Amount uint64
	Nonce  uint64
	Data   []byte
}

// Receipt confirms a transaction on a chain.
type Receipt struct {
	Hash        string
	Chain       string
	Tx          Tx
	ConfirmedAt time.Time
}

type chainState struct {
	name      string
	latency   time.Duration
	connected *atomic.Bool
	factor    *atomic.Float64
	sent      *atomic.Uint64
	failed    *atomic.Uint64
}

// Network simulates a set of chains with probabilistic latency and failure.
// The set of chains is fixed at construction; their connectivity and latency
// factor change at runtime when faults are injected.
type Network struct {
	log      zerolog.Logger
	cfg      Config
	dice     *sut.Dice
	chains   map[string]*chainState
	receipts *lru.Cache[string, Receipt]
	seq      *atomic.Uint64
}

// NewNetwork creates a network with every chain connected.
func NewNetwork(log zerolog.Logger, cfg Config, dice *sut.Dice) (*Network, error) {
	err := cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("invalid network config: %w", err)
	}
	receipts, err := lru.New[string, Receipt](cfg.ReceiptCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create receipt cache: %w", err)
	}

	chains := make(map[string]*chainState, len(cfg.Chains))
	for _, name := range cfg.Chains {
		if _, dup := chains[name]; dup {
			return nil, fmt.Errorf("duplicate chain %s", name)
		}
		chains[name] = &chainState{
			name:      name,
			latency:   cfg.latency(name),
			connected: atomic.NewBool(true),
			factor:    atomic.NewFloat64(1),
			sent:      atomic.NewUint64(0),
			failed:    atomic.NewUint64(0),
		}
	}

	return &Network{
		log:      log.With().Str("component", "chain_network").Logger(),
		cfg:      cfg,
		dice:     dice,
		chains:   chains,
		receipts: receipts,
		seq:      atomic.NewUint64(0),
	}, nil
}

func (n *Network) chain(name string) (*chainState, error) {
	c, ok := n.chains[name]
	if !ok {
		return nil, sut.NewInvalidPayloadErrorf("unknown chain %q", name)
	}
	return c, nil
}

// Chains returns the names of all simulated chains, sorted.
func (n *Network) Chains() []string {
	names := make([]string, 0, len(n.chains))
	for name := range n.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the chain is simulated by this network.
func (n *Network) Has(name string) bool {
	_, ok := n.chains[name]
	return ok
}

// Connected reports whether the chain currently accepts transactions.
func (n *Network) Connected(name string) bool {
	c, ok := n.chains[name]
	return ok && c.connected.Load()
}

// Disconnect takes the chain offline. Sends fail with chain_not_connected
// until Connect succeeds.
func (n *Network) Disconnect(name string) error {
	c, err := n.chain(name)
	if err != nil {
		return err
	}
	c.connected.Store(false)
	n.log.Info().Str("chain", name).Msg("chain disconnected")
	return nil
}

// Connect brings the chain back online. Every attempt succeeds with the
// configured probability; failed attempts are retried with exponential
// backoff up to ConnectAttempts times.
func (n *Network) Connect(ctx context.Context, name string) error {
	c, err := n.chain(name)
	if err != nil {
		return err
	}
	if c.connected.Load() {
		return nil
	}

	backoff := retry.WithMaxRetries(n.cfg.ConnectAttempts-1, retry.NewExponential(n.cfg.ConnectBackoff))

	attempts := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if !n.dice.Chance(n.cfg.ConnectSuccessRate) {
			n.log.Debug().Str("chain", name).Int("attempt", attempts).Msg("connect attempt failed")
			return retry.RetryableError(fmt.Errorf("connection to %s refused", name))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not connect to %s after %d attempts: %w", name, attempts, err)
	}

	c.connected.Store(true)
	n.log.Info().Str("chain", name).Int("attempts", attempts).Msg("chain connected")
	return nil
}

// SetLatencyFactor multiplies the latency of the chain and returns the previous factor.
func (n *Network) SetLatencyFactor(name string, factor float64) (float64, error) {
	if factor <= 0 {
		return 0, fmt.Errorf("latency factor must be positive, got %v", factor)
	}
	c, err := n.chain(name)
	if err != nil {
		return 0, err
	}
	prev := c.factor.Swap(factor)
	n.log.Info().Str("chain", name).Float64("factor", factor).Float64("previous", prev).Msg("chain latency factor changed")
	return prev, nil
}

// LatencyFactor returns the current latency factor of the chain.
func (n *Network) LatencyFactor(name string) float64 {
	c, ok := n.chains[name]
	if !ok {
		return 0
	}
	return c.factor.Load()
}

// Send submits tx to the chain and waits for its simulated confirmation.
//
// Expected errors:
//   - sut.InvalidPayloadError if the chain is not simulated by this network
//   - sut.ChainError with kind chain_not_connected if the chain is offline
//     before or during the send
//   - sut.ChainError with kind invalid_recipient if tx has no recipient
//   - sut.ChainError with one of the random failure kinds
//   - the context error if ctx is done before confirmation
func (n *Network) Send(ctx context.Context, name string, tx Tx) (Receipt, error) {
	c, err := n.chain(name)
	if err != nil {
		return Receipt{}, err
	}
	if !c.connected.Load() {
		c.failed.Inc()
		return Receipt{}, sut.NewChainErrorf(name, load.ErrorKindChainNotConnected, "chain is offline")
	}
	if tx.To == "" {
		c.failed.Inc()
		return Receipt{}, sut.NewChainErrorf(name, load.ErrorKindInvalidRecipient, "empty recipient")
	}

	latency := time.Duration(float64(c.latency) * n.cfg.TimeScale * c.factor.Load())
	latency += n.dice.Jitter(time.Duration(float64(latency) * n.cfg.Jitter))
	err = util.Sleep(ctx, latency)
	if err != nil {
		return Receipt{}, err
	}

	if !c.connected.Load() {
		c.failed.Inc()
		return Receipt{}, sut.NewChainErrorf(name, load.ErrorKindChainNotConnected, "chain went offline during send")
	}
	if !n.dice.Chance(n.cfg.SuccessRate) {
		c.failed.Inc()
		kind := sendFailures[n.dice.Intn(len(sendFailures))]
		return Receipt{}, sut.NewChainError(name, kind, nil)
	}

	receipt := Receipt{
		Hash:        n.hash(name, tx),
		Chain:       name,
		Tx:          tx,
		ConfirmedAt: time.Now(),
	}
	n.receipts.Add(receipt.Hash, receipt)
	c.sent.Inc()
	return receipt, nil
}

// Receipt looks up a recent receipt by transaction hash.
func (n *Network) Receipt(hash string) (Receipt, bool) {
	return n.receipts.Get(hash)
}

// Stats returns the number of confirmed and failed sends of the chain.
func (n *Network) Stats(name string) (sent uint64, failed uint64) {
	c, ok := n.chains[name]
	if !ok {
		return 0, 0
	}
	return c.sent.Load(), c.failed.Load()
}

func (n *Network) hash(chain string, tx Tx) string {
	h := sha3.New256()
	var buf [8]byte
	_, _ = h.Write([]byte(chain))
	_, _ = h.Write([]byte(tx.From))
	_, _ = h.Write([]byte(tx.To))
	binary.BigEndian.PutUint64(buf[:], tx.Amount)
	_, _ = h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], tx.Nonce)
	_, _ = h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], n.seq.Inc())
	_, _ = h.Write(buf[:])
	_, _ = h.Write(tx.Data)
	return hex.EncodeToString(h.Sum(nil))
}
