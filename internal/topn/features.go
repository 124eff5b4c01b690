package topn

// Features holds the derived microstructure fields computed from the
// top-5 book levels, matching spec §4.6's formulas exactly.
type Features struct {
	Microprice    float64
	I1            float64
	I5            float64
	WallSizeBid   float64
	WallSizeAsk   float64
	WallDistBidBp float64
	WallDistAskBp float64
}

const topNDepth = 5

func computeFeatures(bids, asks []Level) Features {
	var f Features

	var b1p, b1q, a1p, a1q float64
	if len(bids) > 0 {
		b1p, b1q = bids[0].Price, bids[0].Qty
	}
	if len(asks) > 0 {
		a1p, a1q = asks[0].Price, asks[0].Qty
	}

	denom1 := b1q + a1q
	if denom1 > 0 {
		f.Microprice = (b1p*a1q + a1p*b1q) / denom1
		f.I1 = (b1q - a1q) / denom1
	} else if b1p > 0 || a1p > 0 {
		f.Microprice = (b1p + a1p) / 2
	}

	var sumBidQ, sumAskQ float64
	for _, l := range bids {
		sumBidQ += l.Qty
	}
	for _, l := range asks {
		sumAskQ += l.Qty
	}
	if denom5 := sumBidQ + sumAskQ; denom5 > 0 {
		f.I5 = (sumBidQ - sumAskQ) / denom5
	}

	mid := f.Microprice
	if b1p > 0 && a1p > 0 {
		mid = (b1p + a1p) / 2
	}

	if wallPrice, wallQty, ok := maxQtyLevel(bids); ok {
		f.WallSizeBid = wallQty
		f.WallDistBidBp = distBps(wallPrice, mid)
	}
	if wallPrice, wallQty, ok := maxQtyLevel(asks); ok {
		f.WallSizeAsk = wallQty
		f.WallDistAskBp = distBps(wallPrice, mid)
	}

	return f
}

func maxQtyLevel(levels []Level) (price, qty float64, ok bool) {
	for _, l := range levels {
		if !ok || l.Qty > qty {
			price, qty, ok = l.Price, l.Qty, true
		}
	}
	return
}

func distBps(price, mid float64) float64 {
	if mid == 0 {
		return 0
	}
	d := price - mid
	if d < 0 {
		d = -d
	}
	return d / mid * 10000
}
