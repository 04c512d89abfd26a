package vm

import "fmt"

// Gas schedule.
const (
	GasCallBase      uint64 = 1_000
	GasPerInputByte  uint64 = 10
	GasStorageRead   uint64 = 200
	GasStorageWrite  uint64 = 5_000
	GasEvent         uint64 = 500
	GasValueTransfer uint64 = 2_000

	// DefaultGasLimit applies to top-level messages that do not set one.
	DefaultGasLimit uint64 = 10_000_000
)

// GasMeter tracks consumption against a fixed limit.
type GasMeter struct {
	limit uint64
	used  uint64
}

// NewGasMeter returns a meter allowing limit units.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Consume charges amount, failing with ErrOutOfGas once the limit is crossed.
// An exhausted meter stays exhausted.
func (g *GasMeter) Consume(amount uint64, what string) error {
	if g.limit-g.used < amount {
		g.used = g.limit
		return fmt.Errorf("%w: %s", ErrOutOfGas, what)
	}
	g.used += amount
	return nil
}

// Remaining returns the unspent gas.
func (g *GasMeter) Remaining() uint64 { return g.limit - g.used }

// Used returns the consumed gas.
func (g *GasMeter) Used() uint64 { return g.used }

// Limit returns the meter limit.
func (g *GasMeter) Limit() uint64 { return g.limit }
