package events

import (
	"context"
	"errors"
	"testing"
)

type fakeDispatcher struct {
	calls []dispatchCall
	err   error
}

type dispatchCall struct {
	eventType string
	payload   map[string]interface{}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]interface{}) error {
	f.calls = append(f.calls, dispatchCall{eventType: eventType, payload: payload})
	return f.err
}

func TestEmitDispatchesSpecificAndUmbrella(t *testing.T) {
	fake := &fakeDispatcher{}
	emitter := NewEmitter(fake, "staging")

	result := emitter.Emit(context.Background(), CategoryKYC, KYCApproved, map[string]interface{}{"user_id": "usr_1"})

	if !result.Success {
		t.Fatalf("Emit result = %+v, want success", result)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("dispatch calls = %d, want 2 (specific + umbrella)", len(fake.calls))
	}

	if fake.calls[0].eventType != KYCApproved {
		t.Errorf("first dispatch = %q, want %q", fake.calls[0].eventType, KYCApproved)
	}
	if fake.calls[1].eventType != "kyc_event" {
		t.Errorf("second dispatch = %q, want kyc_event", fake.calls[1].eventType)
	}

	umbrella := fake.calls[1].payload
	if umbrella["source_event"] != KYCApproved {
		t.Errorf("umbrella source_event = %v, want %q", umbrella["source_event"], KYCApproved)
	}
	if umbrella["user_id"] != "usr_1" {
		t.Error("umbrella payload lost the original fields")
	}
}

func TestEmitEnrichesPayload(t *testing.T) {
	fake := &fakeDispatcher{}
	emitter := NewEmitter(fake, "staging")

	emitter.Emit(context.Background(), CategoryInvestment, InvestmentCreated, map[string]interface{}{"amount": 5000})

	payload := fake.calls[0].payload
	if payload["environment"] != "staging" {
		t.Errorf("environment = %v, want staging", payload["environment"])
	}
	if payload["timestamp"] == nil {
		t.Error("timestamp not set")
	}
	if payload["amount"] != 5000 {
		t.Error("original payload fields lost")
	}
}

func TestEmitDoesNotMutateCallerPayload(t *testing.T) {
	fake := &fakeDispatcher{}
	emitter := NewEmitter(fake, "staging")

	payload := map[string]interface{}{"amount": 5000}
	emitter.Emit(context.Background(), CategoryInvestment, InvestmentCreated, payload)

	if len(payload) != 1 {
		t.Errorf("caller payload mutated: %v", payload)
	}
}

func TestEmitRejectsUnknownType(t *testing.T) {
	fake := &fakeDispatcher{}
	emitter := NewEmitter(fake, "staging")

	result := emitter.Emit(context.Background(), CategoryKYC, "investment_created", nil)

	if result.Success {
		t.Error("Emit accepted an event type outside its category")
	}
	if result.Error == "" {
		t.Error("Emit returned no error text for an unknown type")
	}
	if len(fake.calls) != 0 {
		t.Errorf("dispatch calls = %d, want 0", len(fake.calls))
	}
}

func TestEmitSwallowsDispatchErrors(t *testing.T) {
	fake := &fakeDispatcher{err: errors.New("registry unavailable")}
	emitter := NewEmitter(fake, "production")

	result := emitter.Emit(context.Background(), CategoryWallet, WalletCredited, nil)

	if result.Success {
		t.Error("Emit reported success despite a dispatch error")
	}
	if result.Error != "registry unavailable" {
		t.Errorf("result.Error = %q", result.Error)
	}
}

func TestUmbrellaNames(t *testing.T) {
	for _, c := range Categories() {
		want := string(c) + "_event"
		if c.Umbrella() != want {
			t.Errorf("Umbrella(%s) = %q, want %q", c, c.Umbrella(), want)
		}
	}
}

func TestTaxonomyValid(t *testing.T) {
	if !Valid(CategoryKYC, KYCApproved) {
		t.Error("kyc_approved should belong to kyc")
	}
	if Valid(CategoryKYC, InvestmentCreated) {
		t.Error("investment_created should not belong to kyc")
	}
	if Valid(CategoryKYC, CategoryKYC.Umbrella()) {
		t.Error("the umbrella event is not a specific type")
	}
}
