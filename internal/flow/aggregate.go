package flow

import "relaymeter/internal/domain"

// Totals is the summed traffic of one report batch.
type Totals struct {
	Upload   int64
	Download int64
}

// Aggregate filters out records with missing or non-positive samples and
// sums the rest. Zero or negative samples are noise from the reporting
// agents, not errors. The surviving records are returned so the caller can
// take the batch's service key from the first one.
func Aggregate(records []domain.TrafficRecord) (Totals, []domain.TrafficRecord) {
	var totals Totals
	var valid []domain.TrafficRecord
	for _, r := range records {
		if r.Upload == nil || r.Download == nil {
			continue
		}
		if *r.Upload <= 0 || *r.Download <= 0 {
			continue
		}
		totals.Upload += *r.Upload
		totals.Download += *r.Download
		valid = append(valid, r)
	}
	return totals, valid
}
