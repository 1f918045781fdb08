package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

// resultFilterTimeout bounds one jq evaluation.
const resultFilterTimeout = time.Second

// ResultFilter is a compiled jq expression applied to successful tool results.
type ResultFilter struct {
	expr string
	code *gojq.Code
}

// CompileResultFilter parses and compiles expr. A blank expression yields a nil filter.
func CompileResultFilter(expr string) (*ResultFilter, error) {
	if expr == "" {
		return nil, nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid result_filter: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid result_filter: %w", err)
	}
	return &ResultFilter{expr: expr, code: code}, nil
}

// Apply runs the filter. One output is returned as is, several as an array, none as nil.
func (f *ResultFilter) Apply(ctx context.Context, data any) (any, error) {
	if f == nil {
		return data, nil
	}

	input, err := toJQInput(data)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, resultFilterTimeout)
	defer cancel()

	var results []any
	iter := f.code.RunWithContext(runCtx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if haltErr, isHalt := err.(*gojq.HaltError); isHalt && haltErr.Value() == nil {
				break
			}
			return nil, fmt.Errorf("result_filter failed: %w", err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// toJQInput converts connector output to the plain JSON values gojq accepts.
func toJQInput(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("result is not JSON encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("result is not JSON encodable: %w", err)
	}
	return out, nil
}
