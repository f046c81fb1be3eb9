package manager

import "sendcode_nexus/proxypool/model"

// Aggregate folds trial records into a batch result. It is a pure function of its
// input: an endpoint counts as succeeded only when its outcome is Success, and the
// succeeded list keeps the order of the records.
func Aggregate(records []model.Record) *model.AggregateResult {
	result := &model.AggregateResult{
		Attempted: len(records),
		Succeeded: make([]model.Endpoint, 0),
		Tally:     make(map[model.OutcomeKind]int),
	}
	for _, rec := range records {
		result.Tally[rec.Outcome.Kind]++
		if rec.Outcome.Kind == model.OutcomeSuccess {
			result.Succeeded = append(result.Succeeded, rec.Endpoint)
		}
	}
	return result
}
