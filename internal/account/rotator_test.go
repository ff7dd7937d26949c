package account

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type fakeFunds struct {
	mu          sync.Mutex
	balances    map[common.Address]*big.Int
	balanceErr  map[common.Address]error
	gasPrice    *big.Int
	gasPriceErr error
}

func (f *fakeFunds) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.balanceErr[address]; err != nil {
		return nil, err
	}
	if b, ok := f.balances[address]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeFunds) GasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, f.gasPriceErr
}

func (f *fakeFunds) set(addr common.Address, wei int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = big.NewInt(wei)
}

type fakeObserver struct {
	active    int
	rotations []string
}

func (o *fakeObserver) SetActiveAccount(index int)   { o.active = index }
func (o *fakeObserver) RecordRotation(reason string) { o.rotations = append(o.rotations, reason) }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// amount 1000 wei at gas price 1 wei needs 1000 + 21000 = 22000 wei.
const required = 22000

type rotatorFixture struct {
	rotator  *Rotator
	funds    *fakeFunds
	clock    *fakeClock
	observer *fakeObserver
	primary  *Pair
	second   *Pair
}

func newRotatorFixture(t *testing.T, primaryWei, secondaryWei int64) *rotatorFixture {
	t.Helper()

	primary, err := NewPair(TestPrivateKeys[0], "0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewPair(TestPrivateKeys[1], "0x00000000000000000000000000000000000000bb")
	if err != nil {
		t.Fatal(err)
	}

	funds := &fakeFunds{
		balances:   map[common.Address]*big.Int{},
		balanceErr: map[common.Address]error{},
		gasPrice:   big.NewInt(1),
	}
	funds.set(primary.Sender.Address, primaryWei)
	funds.set(second.Sender.Address, secondaryWei)

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	observer := &fakeObserver{active: -1}

	r, err := NewRotator(RotatorConfig{
		Primary:   primary,
		Secondary: second,
		Funds:     funds,
		Amount:    big.NewInt(1000),
		Observer:  observer,
		Now:       clock.now,
	})
	if err != nil {
		t.Fatalf("NewRotator() error: %v", err)
	}

	return &rotatorFixture{
		rotator:  r,
		funds:    funds,
		clock:    clock,
		observer: observer,
		primary:  primary,
		second:   second,
	}
}

func TestNewRotator_Validation(t *testing.T) {
	p, _ := NewPair(TestPrivateKeys[0], "0x00000000000000000000000000000000000000aa")
	funds := &fakeFunds{gasPrice: big.NewInt(1)}

	tests := []struct {
		name string
		cfg  RotatorConfig
	}{
		{"missing secondary", RotatorConfig{Primary: p, Funds: funds, Amount: big.NewInt(1)}},
		{"missing funds", RotatorConfig{Primary: p, Secondary: p, Amount: big.NewInt(1)}},
		{"missing amount", RotatorConfig{Primary: p, Secondary: p, Funds: funds}},
		{"negative amount", RotatorConfig{Primary: p, Secondary: p, Funds: funds, Amount: big.NewInt(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRotator(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRotator_StartsOnPrimary(t *testing.T) {
	f := newRotatorFixture(t, required, required)

	if f.observer.active != 0 {
		t.Errorf("observer active = %d, want 0", f.observer.active)
	}
	st := f.rotator.Status()
	if st.Index != 0 || st.Sender != f.primary.Sender.Address || !st.LastActivation.Equal(f.clock.t) {
		t.Errorf("unexpected initial status: %+v", st)
	}
}

func TestRotator_RequiredFunds(t *testing.T) {
	f := newRotatorFixture(t, 0, 0)
	got := f.rotator.RequiredFunds(big.NewInt(3))
	if got.Int64() != 1000+3*21000 {
		t.Errorf("RequiredFunds = %s, want %d", got, 1000+3*21000)
	}
}

func TestSelectActive_StaysWhileFundedAndFresh(t *testing.T) {
	f := newRotatorFixture(t, required, required)
	f.clock.advance(59 * time.Minute)

	p, err := f.rotator.SelectActive(context.Background())
	if err != nil {
		t.Fatalf("SelectActive() error: %v", err)
	}
	if p != f.primary {
		t.Error("expected primary pair")
	}
	if len(f.observer.rotations) != 0 {
		t.Errorf("unexpected rotations: %v", f.observer.rotations)
	}
}

func TestSelectActive_RotatesOnLowBalance(t *testing.T) {
	f := newRotatorFixture(t, required-1, required)

	p, err := f.rotator.SelectActive(context.Background())
	if err != nil {
		t.Fatalf("SelectActive() error: %v", err)
	}
	if p != f.second {
		t.Fatal("expected secondary pair")
	}
	if f.rotator.Status().Index != 1 || f.observer.active != 1 {
		t.Errorf("active index not updated")
	}
	if len(f.observer.rotations) != 1 || f.observer.rotations[0] != ReasonInsufficientBalance {
		t.Errorf("rotations = %v", f.observer.rotations)
	}
	if !f.rotator.Status().LastActivation.Equal(f.clock.t) {
		t.Error("secondary activation not stamped")
	}
}

func TestSelectActive_RotatesAfterInterval(t *testing.T) {
	f := newRotatorFixture(t, required, required)

	f.clock.advance(DefaultRotationInterval)
	p, err := f.rotator.SelectActive(context.Background())
	if err != nil {
		t.Fatalf("SelectActive() error: %v", err)
	}
	if p != f.second {
		t.Fatal("expected time rotation to secondary")
	}
	if f.observer.rotations[0] != ReasonTimeRotation {
		t.Errorf("reason = %s, want %s", f.observer.rotations[0], ReasonTimeRotation)
	}

	// The secondary's own activation time governs the next rotation.
	f.clock.advance(30 * time.Minute)
	if p, _ := f.rotator.SelectActive(context.Background()); p != f.second {
		t.Error("rotated back before the secondary's interval elapsed")
	}
	f.clock.advance(30 * time.Minute)
	if p, _ := f.rotator.SelectActive(context.Background()); p != f.primary {
		t.Error("expected rotation back to primary")
	}
}

func TestSelectActive_BothUnderfunded(t *testing.T) {
	f := newRotatorFixture(t, 0, required-1)
	before := f.rotator.Status().LastActivation

	p, err := f.rotator.SelectActive(context.Background())
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if p != f.primary {
		t.Error("expected to stay on primary")
	}
	st := f.rotator.Status()
	if st.Index != 0 || !st.LastActivation.Equal(before) {
		t.Errorf("status changed: %+v", st)
	}
	if len(f.observer.rotations) != 0 {
		t.Errorf("unexpected rotations: %v", f.observer.rotations)
	}
}

func TestSelectActive_ExpiredButCandidateUnderfunded(t *testing.T) {
	f := newRotatorFixture(t, required, 0)
	f.clock.advance(2 * DefaultRotationInterval)

	p, err := f.rotator.SelectActive(context.Background())
	if err != nil {
		t.Fatalf("expected no error when current pair can still pay, got %v", err)
	}
	if p != f.primary {
		t.Error("expected to stay on primary")
	}
	if f.rotator.Status().Index != 0 {
		t.Error("active index changed")
	}
}

func TestSelectActive_BalanceErrorCountsAsInsufficient(t *testing.T) {
	f := newRotatorFixture(t, required, required)
	f.funds.balanceErr[f.primary.Sender.Address] = errors.New("rpc down")

	p, err := f.rotator.SelectActive(context.Background())
	if err != nil {
		t.Fatalf("SelectActive() error: %v", err)
	}
	if p != f.second {
		t.Error("expected rotation away from pair with failing balance call")
	}

	f2 := newRotatorFixture(t, required, required)
	f2.funds.gasPriceErr = errors.New("rpc down")
	if _, err := f2.rotator.SelectActive(context.Background()); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds when gas price fails, got %v", err)
	}
}

func TestSelectActive_Concurrent(t *testing.T) {
	f := newRotatorFixture(t, required, required)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.rotator.SelectActive(context.Background()); err != nil {
				t.Errorf("SelectActive() error: %v", err)
			}
			_ = f.rotator.Status()
		}()
	}
	wg.Wait()
}

func TestSelectActive_CancelledContextIsNotInsufficientFunds(t *testing.T) {
	tests := []struct {
		name         string
		primaryWei   int64
		secondaryWei int64
		elapsed      time.Duration
	}{
		{"both underfunded", 0, 0, 0},
		{"rotation due", required, required, 2 * time.Hour},
		{"primary underfunded", 0, required, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRotatorFixture(t, tt.primaryWei, tt.secondaryWei)
			f.clock.advance(tt.elapsed)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			pair, err := f.rotator.SelectActive(ctx)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("SelectActive() error = %v, want context.Canceled", err)
			}
			if errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("cancelled check reported as insufficient funds: %v", err)
			}
			if pair != f.primary {
				t.Errorf("SelectActive() switched pair on cancellation")
			}
			if len(f.observer.rotations) != 0 || f.rotator.Status().Index != 0 {
				t.Errorf("rotated on cancellation: %v", f.observer.rotations)
			}
		})
	}
}
