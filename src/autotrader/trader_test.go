package autotrader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bostonrobbie/signalbridge/src/brokers"
	"github.com/bostonrobbie/signalbridge/src/database"
	"github.com/bostonrobbie/signalbridge/src/mapper"
	"github.com/bostonrobbie/signalbridge/src/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// fakeExecClient scripts PlaceOrder outcomes per call.
type fakeExecClient struct {
	broker model.Broker

	mu            sync.Mutex
	placeFn       func(call int, req brokers.OrderRequest) (*brokers.OrderResult, error)
	placeCalls    []brokers.OrderRequest
	accounts      []brokers.Account
	accountsErr   error
	accountsCalls int
	block         chan struct{}
}

func (f *fakeExecClient) Broker() model.Broker { return f.broker }

func (f *fakeExecClient) Authenticate(ctx context.Context) (*brokers.AuthResult, error) {
	return &brokers.AuthResult{}, nil
}

func (f *fakeExecClient) Accounts(ctx context.Context) ([]brokers.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountsCalls++
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	if f.accounts == nil {
		return []brokers.Account{{ID: "A1", Name: "demo", Active: true}}, nil
	}
	return f.accounts, nil
}

func (f *fakeExecClient) Positions(ctx context.Context) ([]brokers.Position, error) {
	return nil, nil
}

func (f *fakeExecClient) PlaceOrder(ctx context.Context, req brokers.OrderRequest) (*brokers.OrderResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.placeCalls = append(f.placeCalls, req)
	call := len(f.placeCalls)
	fn := f.placeFn
	f.mu.Unlock()

	if fn == nil {
		return &brokers.OrderResult{OrderID: "ord-1", Status: "Submitted"}, nil
	}
	return fn(call, req)
}

func (f *fakeExecClient) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (f *fakeExecClient) Health(ctx context.Context) *brokers.Snapshot {
	return &brokers.Snapshot{Broker: f.broker}
}

func (f *fakeExecClient) Close() error { return nil }

func (f *fakeExecClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placeCalls)
}

type fakeProvider struct {
	mu        sync.Mutex
	conns     []*brokers.Connection
	paperArgs []bool
}

func (p *fakeProvider) EligibleConnections(paperOnly bool) []*brokers.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paperArgs = append(p.paperArgs, paperOnly)
	return append([]*brokers.Connection(nil), p.conns...)
}

func execConn(id string, client brokers.Client, priority int) *brokers.Connection {
	return &brokers.Connection{ID: id, UserID: "u1", Broker: client.Broker(), Priority: priority, IsPaper: true, Client: client}
}

type testTrader struct {
	*AutoTrader
	db       *gorm.DB
	provider *fakeProvider
	delays   *[]time.Duration
}

func newTestTrader(t *testing.T, config Config, conns ...*brokers.Connection) *testTrader {
	t.Helper()

	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 2 * time.Second
	}
	if config.OrderTimeout == 0 {
		config.OrderTimeout = 5 * time.Second
	}
	if config.QueueCapacity == 0 {
		config.QueueCapacity = 8
	}
	if config.HistorySize == 0 {
		config.HistorySize = 100
	}
	config.DrainInterval = time.Hour

	db := newTestDB(t)
	provider := &fakeProvider{conns: conns}
	trader := NewAutoTrader(config, db, provider, mapper.NewContractMap())
	trader.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }

	delays := &[]time.Duration{}
	trader.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}

	return &testTrader{AutoTrader: trader, db: db, provider: provider, delays: delays}
}

func signal(id, symbol, action string, qty float64) model.TradeSignal {
	return model.TradeSignal{
		ID:         id,
		StrategyID: 1,
		Symbol:     symbol,
		Action:     action,
		Quantity:   qty,
		OrderType:  model.OrderTypeMarket,
		Timestamp:  time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func loadRecords(t *testing.T, db *gorm.DB) []model.ExecutionRecord {
	t.Helper()
	var records []model.ExecutionRecord
	require.NoError(t, db.Order("id ASC").Find(&records).Error)
	return records
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	tr := newTestTrader(t, Config{QueueCapacity: 2, PaperOnly: true})

	assert.True(t, tr.Enqueue(signal("s1", "ES", model.SignalActionBuy, 1)))
	assert.True(t, tr.Enqueue(signal("s2", "ES", model.SignalActionBuy, 1)))
	assert.False(t, tr.Enqueue(signal("s3", "ES", model.SignalActionBuy, 1)))
	assert.Equal(t, 2, tr.Pending())
}

func TestDrainExecutesQueuedSignal(t *testing.T) {
	client := &fakeExecClient{broker: model.BrokerTradovate}
	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true}, execConn("c1", client, 1))

	require.True(t, tr.Enqueue(signal("sig-1", "ES", model.SignalActionBuy, 2)))
	tr.Drain(context.Background())

	assert.Zero(t, tr.Pending())
	require.Equal(t, 1, client.calls())

	placed := client.placeCalls[0]
	assert.Equal(t, "A1", placed.AccountID)
	assert.Equal(t, "ESU6", placed.ContractID, "symbol resolves to the broker's contract")
	assert.Equal(t, model.SignalActionBuy, placed.Action)
	assert.Equal(t, 2.0, placed.Quantity)
	assert.Equal(t, "sig-1", placed.SignalID)

	records := loadRecords(t, tr.db)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, "tradovate", records[0].Broker)
	assert.Equal(t, "c1", records[0].ConnectionID)
	require.NotNil(t, records[0].OrderID)
	assert.Equal(t, "ord-1", *records[0].OrderID)
	assert.Equal(t, 1, records[0].RetryCount)
	assert.Nil(t, records[0].ErrorMessage)

	history := tr.History()
	require.Len(t, history, 1)
	assert.Equal(t, "sig-1", history[0].SignalID)

	// Account resolution is cached per connection.
	require.True(t, tr.Enqueue(signal("sig-2", "NQ", model.SignalActionSell, 1)))
	tr.Drain(context.Background())
	client.mu.Lock()
	accountsCalls := client.accountsCalls
	client.mu.Unlock()
	assert.Equal(t, 1, accountsCalls)
}

func TestRetriesWithLinearBackoff(t *testing.T) {
	client := &fakeExecClient{broker: model.BrokerTradovate}
	client.placeFn = func(call int, req brokers.OrderRequest) (*brokers.OrderResult, error) {
		if call < 3 {
			return nil, errors.New("gateway timeout")
		}
		return &brokers.OrderResult{OrderID: "ord-3", Status: "Submitted"}, nil
	}
	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true}, execConn("c1", client, 1))

	require.True(t, tr.Enqueue(signal("sig-1", "ES", model.SignalActionBuy, 1)))
	tr.Drain(context.Background())

	records := loadRecords(t, tr.db)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, 3, records[0].RetryCount)

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *tr.delays, "delays grow linearly per attempt")
}

func TestFailoverCountsAttemptsAcrossBrokers(t *testing.T) {
	primary := &fakeExecClient{broker: model.BrokerTradovate}
	primary.placeFn = func(call int, req brokers.OrderRequest) (*brokers.OrderResult, error) {
		return nil, errors.New("exchange unavailable")
	}
	secondary := &fakeExecClient{broker: model.BrokerTradeStation}

	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true},
		execConn("c1", primary, 1), execConn("c2", secondary, 2))

	require.True(t, tr.Enqueue(signal("sig-1", "ES", model.SignalActionBuy, 1)))
	tr.Drain(context.Background())

	assert.Equal(t, 3, primary.calls(), "primary exhausts its attempts")
	assert.Equal(t, 1, secondary.calls())
	assert.Equal(t, "@ES", secondary.placeCalls[0].ContractID, "failover re-resolves the contract per broker")

	records := loadRecords(t, tr.db)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, "tradestation", records[0].Broker)
	assert.Equal(t, 4, records[0].RetryCount, "three spent on the primary plus one on the secondary")
}

func TestAuthErrorSkipsRemainingAttempts(t *testing.T) {
	primary := &fakeExecClient{broker: model.BrokerTradovate}
	primary.placeFn = func(call int, req brokers.OrderRequest) (*brokers.OrderResult, error) {
		return nil, &brokers.AuthError{Broker: "tradovate", Status: 401, Reason: "session expired"}
	}
	secondary := &fakeExecClient{broker: model.BrokerTradeStation}

	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true},
		execConn("c1", primary, 1), execConn("c2", secondary, 2))

	require.True(t, tr.Enqueue(signal("sig-1", "ES", model.SignalActionSell, 1)))
	tr.Drain(context.Background())

	assert.Equal(t, 1, primary.calls(), "an expired session is not retried")
	assert.Equal(t, 1, secondary.calls())
	assert.Empty(t, *tr.delays, "no backoff before failing over on auth errors")

	records := loadRecords(t, tr.db)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, 2, records[0].RetryCount)
}

func TestFailoverDisabledStopsAtFirstConnection(t *testing.T) {
	primary := &fakeExecClient{broker: model.BrokerTradovate}
	primary.placeFn = func(call int, req brokers.OrderRequest) (*brokers.OrderResult, error) {
		return nil, errors.New("exchange unavailable")
	}
	secondary := &fakeExecClient{broker: model.BrokerTradeStation}

	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: false},
		execConn("c1", primary, 1), execConn("c2", secondary, 2))

	require.True(t, tr.Enqueue(signal("sig-1", "ES", model.SignalActionBuy, 1)))
	tr.Drain(context.Background())

	assert.Equal(t, 3, primary.calls())
	assert.Zero(t, secondary.calls())

	records := loadRecords(t, tr.db)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, 3, records[0].RetryCount)
	require.NotNil(t, records[0].ErrorMessage)
	assert.Contains(t, *records[0].ErrorMessage, "exchange unavailable")

	var exceptions int64
	require.NoError(t, tr.db.Model(&model.Exception{}).Count(&exceptions).Error)
	assert.EqualValues(t, 1, exceptions, "total failures are captured")
}

func TestNoEligibleConnections(t *testing.T) {
	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true})

	require.True(t, tr.Enqueue(signal("sig-1", "ES", model.SignalActionBuy, 1)))
	tr.Drain(context.Background())

	records := loadRecords(t, tr.db)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Zero(t, records[0].RetryCount)
	require.NotNil(t, records[0].ErrorMessage)
	assert.Contains(t, *records[0].ErrorMessage, "no eligible broker connections")

	require.Len(t, tr.provider.paperArgs, 1)
	assert.True(t, tr.provider.paperArgs[0], "paper-only filter reaches the provider")
}

func TestUnmappedSymbolFailsWithoutOrderAttempts(t *testing.T) {
	client := &fakeExecClient{broker: model.BrokerTradovate}
	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true}, execConn("c1", client, 1))

	require.True(t, tr.Enqueue(signal("sig-1", "ZZ", model.SignalActionBuy, 1)))
	tr.Drain(context.Background())

	assert.Zero(t, client.calls())

	records := loadRecords(t, tr.db)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Zero(t, records[0].RetryCount)
	require.NotNil(t, records[0].ErrorMessage)
	assert.Contains(t, *records[0].ErrorMessage, "no contract mapping")
}

func TestAccountFailureFailsOver(t *testing.T) {
	broken := &fakeExecClient{broker: model.BrokerTradovate, accountsErr: errors.New("account list timed out")}
	working := &fakeExecClient{broker: model.BrokerTradeStation}

	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true},
		execConn("c1", broken, 1), execConn("c2", working, 2))

	require.True(t, tr.Enqueue(signal("sig-1", "ES", model.SignalActionBuy, 1)))
	tr.Drain(context.Background())

	assert.Zero(t, broken.calls(), "no order goes to a connection without an account")
	assert.Equal(t, 1, working.calls())

	records := loadRecords(t, tr.db)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, "tradestation", records[0].Broker)
	assert.Equal(t, 1, records[0].RetryCount)
}

func TestDrainSkipsWhileBusy(t *testing.T) {
	client := &fakeExecClient{broker: model.BrokerTradovate, block: make(chan struct{})}
	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true}, execConn("c1", client, 1))

	require.True(t, tr.Enqueue(signal("sig-1", "ES", model.SignalActionBuy, 1)))

	done := make(chan struct{})
	go func() {
		tr.Drain(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return tr.draining.Load() }, time.Second, time.Millisecond)

	// A second drain while the first is stuck must not double-execute.
	require.True(t, tr.Enqueue(signal("sig-2", "NQ", model.SignalActionBuy, 1)))
	tr.Drain(context.Background())
	assert.Equal(t, 1, tr.Pending(), "the skipped drain leaves the new signal queued")

	close(client.block)
	<-done

	records := loadRecords(t, tr.db)
	assert.Len(t, records, 1)
}

func TestDrainRequeuesOnCanceledContext(t *testing.T) {
	client := &fakeExecClient{broker: model.BrokerTradovate}
	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true}, execConn("c1", client, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.True(t, tr.Enqueue(signal("sig-1", "ES", model.SignalActionBuy, 1)))
	tr.Drain(ctx)

	assert.Zero(t, client.calls())
	assert.Equal(t, 1, tr.Pending(), "unexecuted work survives for the next drain")
	assert.Empty(t, loadRecords(t, tr.db))
}

func TestHistoryIsBounded(t *testing.T) {
	client := &fakeExecClient{broker: model.BrokerTradovate}
	tr := newTestTrader(t, Config{PaperOnly: true, FailoverEnabled: true, HistorySize: 2}, execConn("c1", client, 1))

	for _, id := range []string{"s1", "s2", "s3"} {
		require.True(t, tr.Enqueue(signal(id, "ES", model.SignalActionBuy, 1)))
		tr.Drain(context.Background())
	}

	history := tr.History()
	require.Len(t, history, 2)
	assert.Equal(t, "s2", history[0].SignalID)
	assert.Equal(t, "s3", history[1].SignalID)

	assert.Len(t, loadRecords(t, tr.db), 3, "the database keeps everything the ring evicts")
}
