package commission

import "math"

// DefaultRate is the platform's cut on peer-to-peer book sales.
// Production reads the effective rate from config; the parameter
// exists so the split stays a pure, testable function.
const DefaultRate = 0.05

// Calculate splits a gross sale amount into the platform commission and the
// seller's net proceeds. The commission is rounded half-up and the seller
// receives the exact remainder, so commission+sellerAmount == amount always.
func Calculate(amount int64, rate float64) (commission int64, sellerAmount int64) {
	commission = int64(math.Floor(float64(amount)*rate + 0.5))
	sellerAmount = amount - commission
	return commission, sellerAmount
}
