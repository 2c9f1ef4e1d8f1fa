package scoring

// Ratios holds order totals and the derived ratios for a set of counters.
type Ratios struct {
	Total           int64   `json:"total_orders"`
	CompletionRatio float64 `json:"completion_ratio"`
	CancelRatio     float64 `json:"cancel_ratio"`
	RiskRatio       float64 `json:"risk_ratio"`
}

// Compute derives completion, cancel and risk ratios from raw counters.
// Negative counters are treated as zero. All ratios are zero when there are no orders.
func Compute(delivered, returned, cancelled int64) Ratios {
	delivered, returned, cancelled = clamp(delivered), clamp(returned), clamp(cancelled)
	total := delivered + returned + cancelled
	if total == 0 {
		return Ratios{}
	}

	return Ratios{
		Total:           total,
		CompletionRatio: ratio(delivered, total),
		CancelRatio:     ratio(cancelled, total),
		RiskRatio:       ratio(returned+cancelled, total),
	}
}

// ratio returns part/total rounded half away from zero to four decimal places.
// The rounding is done on integers so exact halves such as 57/800 round up.
func ratio(part, total int64) float64 {
	return float64((part*20000+total)/(2*total)) / 10000
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
