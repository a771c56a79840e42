package fixedpoint

// FloorToTick discretises price to the containing tick boundary:
// floor(price/tickSize) * tickSize, with ties rounded consistently
// (toward negative infinity) as spec.md §4.3 requires for zone identity.
func FloorToTick(price, tickSize Value) Value {
	if tickSize.IsZero() {
		return price
	}
	q := price.d.DivRound(tickSize.d, 0)
	// DivRound rounds half-away-from-zero; force floor semantics by
	// checking whether the rounded quotient overshoots.
	if q.Mul(tickSize.d).GreaterThan(price.d) {
		q = q.Sub(decimalOne)
	}
	return Value{d: q.Mul(tickSize.d)}
}

// TickIndex returns floor(price/tickSize) as an int64 key, used to
// bucket zones and candidate price levels by discretised tick.
func TickIndex(price, tickSize Value) int64 {
	if tickSize.IsZero() {
		return 0
	}
	q := price.d.DivRound(tickSize.d, 0)
	if q.Mul(tickSize.d).GreaterThan(price.d) {
		q = q.Sub(decimalOne)
	}
	return q.IntPart()
}
