package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vk/fedgridgo/internal/codec"
	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/executor"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/vk/fedgridgo/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// createRequest asks the factory for an executor sized by the given
// cardinalities. Omitted placements fall back to configured defaults.
type createRequest struct {
	Cardinalities map[string]int `json:"cardinalities"`
}

type createResponse struct {
	ExecutorID string `json:"executor_id"`
}

// computeRequest runs one computation on an executor.
type computeRequest struct {
	Intrinsic string     `json:"intrinsic"`
	Fn        string     `json:"fn,omitempty"`
	Value     *wireValue `json:"value"`
}

type computeResponse struct {
	Value *wireValue `json:"value"`
}

// wireValue is the JSON form of a federated value.
type wireValue struct {
	Placement string `json:"placement"`
	AllEqual  bool   `json:"all_equal,omitempty"`
	Payloads  []any  `json:"payloads"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (r *createRequest) cardinalities() placement.Cardinalities {
	cards := placement.Cardinalities{}
	for name, count := range r.Cardinalities {
		cards[placement.Name(name)] = count
	}
	return cards
}

func (r *computeRequest) computation() computation.Computation {
	return computation.Computation{Intrinsic: r.Intrinsic, FnName: r.Fn}
}

func (r *computeRequest) federatedValue() (*value.Federated, error) {
	if r.Value == nil {
		return nil, &computation.InvalidArgumentError{Field: "value", Reason: "computation requires a value"}
	}
	payloads := make([]cty.Value, len(r.Value.Payloads))
	for i, raw := range r.Value.Payloads {
		converted, err := codec.ToCty(raw)
		if err != nil {
			return nil, &computation.InvalidArgumentError{Field: "value", Reason: err.Error()}
		}
		payloads[i] = converted
	}

	switch placement.Name(r.Value.Placement) {
	case placement.Server:
		if len(payloads) != 1 {
			return nil, &computation.InvalidArgumentError{Field: "value", Reason: fmt.Sprintf("server-placed value needs exactly 1 payload, got %d", len(payloads))}
		}
		return value.AtServer(payloads[0]), nil
	case placement.Clients:
		if r.Value.AllEqual {
			if len(payloads) != 1 {
				return nil, &computation.InvalidArgumentError{Field: "value", Reason: fmt.Sprintf("all-equal value needs exactly 1 payload, got %d", len(payloads))}
			}
			return value.Broadcast(payloads[0]), nil
		}
		return value.AtClients(payloads), nil
	default:
		return nil, &computation.InvalidArgumentError{Field: "value", Reason: fmt.Sprintf("unknown placement %q", r.Value.Placement)}
	}
}

func toWire(v *value.Federated) (*wireValue, error) {
	out := &wireValue{Placement: string(v.Placement), AllEqual: v.AllEqual}
	out.Payloads = make([]any, 0, v.NumPayloads())
	for i := 0; i < v.NumPayloads(); i++ {
		payload, err := v.PayloadFor(i)
		if err != nil {
			return nil, err
		}
		converted, err := codec.FromCty(payload)
		if err != nil {
			return nil, err
		}
		out.Payloads = append(out.Payloads, converted)
	}
	return out, nil
}

// classify maps the error taxonomy onto response kinds and status codes.
// Every failure becomes a structured per-request response; nothing here
// crashes the process.
func classify(err error) (int, errorBody) {
	var invalidCard *placement.InvalidCardinalityError
	var mismatch *placement.CardinalityMismatchError
	var invalidArg *computation.InvalidArgumentError
	var teardown *executor.ResourceTeardownError

	switch {
	case errors.As(err, &invalidCard):
		return http.StatusBadRequest, errorBody{Kind: "invalid_cardinality", Message: err.Error()}
	case errors.As(err, &mismatch):
		return http.StatusBadRequest, errorBody{Kind: "cardinality_mismatch", Message: err.Error()}
	case errors.As(err, &invalidArg):
		return http.StatusBadRequest, errorBody{Kind: "invalid_argument", Message: err.Error()}
	case errors.As(err, &teardown):
		return http.StatusInternalServerError, errorBody{Kind: "teardown_failure", Message: err.Error()}
	case errors.Is(err, executor.ErrStackUnusable):
		return http.StatusInternalServerError, errorBody{Kind: "executor_unusable", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Kind: "internal", Message: err.Error()}
	}
}
