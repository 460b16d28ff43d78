package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	sarama "github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaSinkPublishesJSON(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	p := mocks.NewSyncProducer(t, cfg)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.ActionType != ActionEdit || e.User != "qa@example.com" {
			return fmt.Errorf("unexpected entry %+v", e)
		}
		return nil
	})
	s := NewKafkaSinkFromProducer(p, "")
	if err := s.Append(context.Background(), Entry{User: "qa@example.com", ActionType: ActionEdit}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafkaSinkReportsFailure(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	p := mocks.NewSyncProducer(t, cfg)
	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	s := NewKafkaSinkFromProducer(p, "audit")
	if err := s.Append(context.Background(), Entry{ActionType: ActionSignIn}); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	_ = s.Close()
}
