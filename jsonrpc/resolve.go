package jsonrpc

import "context"

// Resolve blocks until a pending Success completes. Failures and concrete
// successes are returned unchanged. A fault while completing becomes a
// CodeUnexpectedError failure.
func Resolve(ctx context.Context, o Outcome) Outcome {
	s, ok := o.(Success)
	if !ok || s.Future == nil {
		return o
	}
	v, err := s.Future.Wait(ctx)
	return settle(s, v, err)
}

// ResolveBatch resolves every outcome, waiting on all pending successes as
// one concurrent group. Results keep the position of their input, so the
// i'th output always belongs to the i'th request.
func ResolveBatch(ctx context.Context, outcomes []Outcome) []Outcome {
	resolved := make([]Outcome, len(outcomes))

	var (
		pending []int
		futures []*Future
	)
	for i, o := range outcomes {
		if s, ok := o.(Success); ok && s.Future != nil {
			pending = append(pending, i)
			futures = append(futures, s.Future)
			continue
		}
		// Failures and immediate successes need no wait.
		resolved[i] = o
	}

	if len(futures) == 0 {
		return resolved
	}
	for j, st := range WaitAll(ctx, futures) {
		i := pending[j]
		resolved[i] = settle(outcomes[i].(Success), st.Value, st.Err)
	}
	return resolved
}

func settle(s Success, v any, err error) Outcome {
	if err != nil {
		return Failure{ID: s.ID, Code: CodeUnexpectedError, Detail: faultDetail(err), Cause: err}
	}
	return Success{ID: s.ID, Value: v}
}
