package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/payment"
	"github.com/emplant2000/piphp/internal/provider"
	"github.com/emplant2000/piphp/internal/session"

	"github.com/shopspring/decimal"
)

type fixture struct {
	ingestor *Ingestor
	payments *payment.Manager
	store    session.Store
	sink     *audit.MemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := session.NewMemoryStore()
	sink := &audit.MemorySink{}
	rec := audit.NewRecorder(sink)
	pm := payment.NewManager(store, provider.NewMock(), rec, nil, payment.Options{
		MinAmount:   decimal.Zero,
		MaxAmount:   decimal.NewFromInt(100),
		DefaultMemo: "memo",
		Retention:   24 * time.Hour,
	})
	t.Cleanup(pm.Wait)
	if _, err := store.Create(context.Background(), "sid", "uid-1", "alice", time.Now().UTC()); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &fixture{ingestor: NewIngestor(pm, rec, nil), payments: pm, store: store, sink: sink}
}

// cashout creates a pending payment and waits for its provider submission.
func (f *fixture) cashout(t *testing.T) *models.Payment {
	t.Helper()
	p, err := f.payments.RequestCashout(context.Background(), "sid", decimal.NewFromInt(5), "")
	if err != nil {
		t.Fatalf("RequestCashout: %v", err)
	}
	f.payments.Wait()
	return p
}

func (f *fixture) slot(t *testing.T) *models.Payment {
	t.Helper()
	p, err := f.store.GetLastPayment(context.Background(), "sid")
	if err != nil {
		t.Fatalf("GetLastPayment: %v", err)
	}
	return p
}

func TestIngest_TestEvent(t *testing.T) {
	f := newFixture(t)
	resp := f.ingestor.Ingest(context.Background(), []byte(`{"type":"test"}`))

	got, _ := json.Marshal(resp)
	if string(got) != `{"status":"ok","message":"Webhook working"}` {
		t.Errorf("response = %s", got)
	}
	if acts := f.sink.Actions(); len(acts) != 1 || acts[0] != audit.ActionWebhookReceived {
		t.Errorf("audit = %v, want only webhook_received", acts)
	}
}

func TestIngest_UnmatchedCompletion(t *testing.T) {
	f := newFixture(t)
	f.cashout(t)

	resp := f.ingestor.Ingest(context.Background(), []byte(`{"type":"payment_completed","txid":"tx_42"}`))
	got, _ := json.Marshal(resp)
	if string(got) != `{"status":"received"}` {
		t.Errorf("response = %s", got)
	}
	if p := f.slot(t); p.Status != models.PaymentPending || p.TxID != "" {
		t.Errorf("slot changed: %+v", p)
	}
	if f.sink.Count(audit.ActionPaymentUnmatched) != 1 {
		t.Errorf("audit = %v", f.sink.Actions())
	}
}

func TestIngest_MalformedPayload(t *testing.T) {
	f := newFixture(t)
	bodies := []string{``, `not json`, `[1,2]`, `"payment_completed"`, `null`, `{"type":"test"} {"type":"test"}`, `{"type":`}
	for _, b := range bodies {
		resp := f.ingestor.Ingest(context.Background(), []byte(b))
		if resp.Status != StatusInvalidPayload || resp.Message != "" {
			t.Errorf("Ingest(%q) = %+v, want invalid_payload", b, resp)
		}
	}
	if n := len(f.sink.Events()); n != 0 {
		t.Errorf("malformed payloads audited: %v", f.sink.Actions())
	}
}

func TestIngest_ApprovedThenCompleted(t *testing.T) {
	f := newFixture(t)
	p := f.cashout(t)
	ctx := context.Background()

	resp := f.ingestor.Ingest(ctx, []byte(`{"type":"payment_approved","payment_id":"`+p.PaymentID+`","amount":5.0}`))
	if resp.Status != StatusReceived {
		t.Fatalf("approved response = %+v", resp)
	}
	if got := f.slot(t); got.Status != models.PaymentApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}

	resp = f.ingestor.Ingest(ctx, []byte(`{"type":"payment_completed","payment_id":"`+p.PaymentID+`","txid":"tx_7"}`))
	if resp.Status != StatusReceived {
		t.Fatalf("completed response = %+v", resp)
	}
	got := f.slot(t)
	if got.Status != models.PaymentCompleted || got.TxID != "tx_7" {
		t.Errorf("slot = %+v, want completed tx_7", got)
	}

	for _, action := range []string{audit.ActionPaymentApproved, audit.ActionPaymentCompleted} {
		if f.sink.Count(action) != 1 {
			t.Errorf("%s count = %d", action, f.sink.Count(action))
		}
	}
	if f.sink.Count(audit.ActionWebhookReceived) != 2 {
		t.Errorf("webhook_received count = %d", f.sink.Count(audit.ActionWebhookReceived))
	}
}

func TestIngest_StringAmount(t *testing.T) {
	f := newFixture(t)
	p := f.cashout(t)

	f.ingestor.Ingest(context.Background(), []byte(`{"type":"payment_approved","payment_id":"`+p.PaymentID+`","amount":"5.25"}`))
	for _, ev := range f.sink.Events() {
		if ev.Action == audit.ActionPaymentApproved && ev.Payload["amount"] != "5.25" {
			t.Errorf("approved payload amount = %v", ev.Payload["amount"])
		}
	}
}

func TestIngest_DuplicateCompletion(t *testing.T) {
	f := newFixture(t)
	p := f.cashout(t)
	body := []byte(`{"type":"payment_completed","payment_id":"` + p.PaymentID + `","txid":"tx_1"}`)

	first := f.ingestor.Ingest(context.Background(), body)
	after1 := f.slot(t)
	second := f.ingestor.Ingest(context.Background(), body)
	after2 := f.slot(t)

	if first != second || first.Status != StatusReceived {
		t.Errorf("responses = %+v, %+v", first, second)
	}
	if after1.Status != models.PaymentCompleted || after2.Status != after1.Status || after2.TxID != after1.TxID {
		t.Errorf("records = %+v then %+v", after1, after2)
	}
	if f.sink.Count(audit.ActionStatusChanged) != 1 || f.sink.Count(audit.ActionTransitionRejected) != 1 {
		t.Errorf("audit = %v", f.sink.Actions())
	}
}

func TestIngest_UnknownType(t *testing.T) {
	f := newFixture(t)
	p := f.cashout(t)

	for _, b := range []string{`{"payment_id":"` + p.PaymentID + `"}`, `{"type":"refund","payment_id":"` + p.PaymentID + `"}`} {
		if resp := f.ingestor.Ingest(context.Background(), []byte(b)); resp.Status != StatusReceived {
			t.Errorf("Ingest(%s) = %+v", b, resp)
		}
	}
	if got := f.slot(t); got.Status != models.PaymentPending {
		t.Errorf("unknown event mutated status to %s", got.Status)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"test"}`)
	sig := Sign("s3cret", body)

	if !VerifySignature("s3cret", body, sig) {
		t.Error("valid signature rejected")
	}
	if !VerifySignature("s3cret", body, "sha256="+sig) {
		t.Error("prefixed signature rejected")
	}
	if VerifySignature("s3cret", []byte(`{"type":"other"}`), sig) {
		t.Error("signature accepted for a different body")
	}
	if VerifySignature("s3cret", body, "") || VerifySignature("s3cret", body, "zz") {
		t.Error("missing or garbage signature accepted")
	}
	if !VerifySignature("", body, "") {
		t.Error("empty secret should disable verification")
	}
}
