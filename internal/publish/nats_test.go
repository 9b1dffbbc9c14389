package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"pingme/internal/model"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	drained  int
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained++
	return nil
}

func TestSubject(t *testing.T) {
	ev := model.DomainEvent{ContractAddress: "0xAbCd", EventName: "Transfer"}
	if got := Subject("pingme.events", ev); got != "pingme.events.0xabcd.Transfer" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := Subject("p", model.DomainEvent{EventName: "a.b"}); got != "p._.a_b" {
		t.Fatalf("unexpected sanitized subject %q", got)
	}
}

func TestPublishAndClose(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "alerts.", nil)
	ev := model.DomainEvent{ID: "0x1", ContractAddress: "0xAA", EventName: "Mint", Importance: model.LevelHigh}

	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fc.subjects) != 1 || fc.subjects[0] != "alerts.0xaa.Mint" {
		t.Fatalf("unexpected subjects %v", fc.subjects)
	}
	var decoded model.DomainEvent
	if err := json.Unmarshal(fc.payloads[0], &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.ID != "0x1" || decoded.Importance != model.LevelHigh {
		t.Fatalf("unexpected payload %+v", decoded)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if fc.drained != 1 {
		t.Fatalf("expected one drain, got %d", fc.drained)
	}
	if err := p.Publish(context.Background(), ev); err == nil {
		t.Fatalf("publish after close should fail")
	}
}

func TestPublishError(t *testing.T) {
	fc := &fakeConn{err: errors.New("no responders")}
	p := newPublisher(fc, "", nil)
	if err := p.Publish(context.Background(), model.DomainEvent{ID: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}
