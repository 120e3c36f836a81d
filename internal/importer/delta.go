package importer

import "github.com/shopspring/decimal"

// computeDelta reconciles an incoming points value against a member's
// watermark. The watermark is the value recorded by the previous
// migration import, not a balance: the signed delta is what the ledger
// must absorb so that re-running an identical file yields delta zero
// everywhere.
func computeDelta(incoming, watermark, currentBalance decimal.Decimal) (delta, balanceAfter decimal.Decimal) {
	delta = incoming.Sub(watermark)
	balanceAfter = currentBalance.Add(delta)
	return delta, balanceAfter
}
