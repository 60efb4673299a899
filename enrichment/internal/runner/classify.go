package runner

import "github.com/jonesrussell/north-cloud/enrichment/internal/domain"

// DefaultSuccessThreshold is the fill rate at which an item counts as a success.
const DefaultSuccessThreshold = 0.7

// noValuesMessage is recorded on items whose lookup returned nothing usable.
const noValuesMessage = "no values returned for requested attributes"

// Classify applies the fill-rate policy. An item that needs no attributes is a
// success. Otherwise filled/required at or above threshold is a success, any
// value at all is partial, and nothing is a failure.
func Classify(required, filled int, threshold float64) domain.ItemStatus {
	if required <= 0 {
		return domain.ItemSuccess
	}
	filled = min(max(filled, 0), required)
	if float64(filled)/float64(required) >= threshold {
		return domain.ItemSuccess
	}
	if filled > 0 {
		return domain.ItemPartial
	}
	return domain.ItemFailed
}
