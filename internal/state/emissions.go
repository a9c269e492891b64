package state

import fpmath "MarginLedger/internal/math"

// ClaimEmissions accrues rewards on the balance up to now. Only the side the
// bank currently rewards earns; the reward is capped by the bank's remaining
// budget and last_update always advances so the period is never paid twice.
func (w *BankAccountWrapper) ClaimEmissions(now int64) error {
	bal, bank := w.Balance, w.Bank

	last := bal.LastUpdate
	if last == 0 || last > now {
		last = now
	}
	period := now - last
	bal.LastUpdate = now

	if period == 0 || !bank.EmissionsRate.IsPositive() {
		return nil
	}

	var amount fpmath.I80F48
	var err error
	switch bal.Side() {
	case SideAssets:
		if !bank.HasFlag(EmissionsFlagLendingActive) {
			return nil
		}
		amount, err = bank.AssetAmount(bal.AssetShares)
	case SideLiabilities:
		if !bank.HasFlag(EmissionsFlagBorrowActive) {
			return nil
		}
		amount, err = bank.LiabilityAmount(bal.LiabilityShares)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	reward, err := CalcEmissions(period, amount, bank.MintDecimals, bank.EmissionsRate)
	if err != nil {
		return err
	}
	reward = fpmath.Min(reward, bank.EmissionsRemaining)

	outstanding, err := bal.EmissionsOutstanding.Add(reward)
	if err != nil {
		return err
	}
	remaining, err := bank.EmissionsRemaining.Sub(reward)
	if err != nil {
		return err
	}
	bal.EmissionsOutstanding = outstanding
	bank.EmissionsRemaining = remaining
	return nil
}

// CalcEmissions returns period/SecondsPerYear * uiAmount * rate.
func CalcEmissions(period int64, amount fpmath.I80F48, decimals uint8, rate fpmath.I80F48) (fpmath.I80F48, error) {
	scale, err := fpmath.Exp10(int(decimals))
	if err != nil {
		return fpmath.Zero, err
	}
	ui, err := amount.Div(scale)
	if err != nil {
		return fpmath.Zero, err
	}
	v, err := fpmath.FromInt(period).Mul(ui)
	if err != nil {
		return fpmath.Zero, err
	}
	if v, err = v.Div(SecondsPerYear); err != nil {
		return fpmath.Zero, err
	}
	return v.Mul(rate)
}
