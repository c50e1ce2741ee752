package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/showgayaki/camenashi-kun/internal/pipeline"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.IncidentID != "inc-1" || ev.Type != Finalized || ev.Report == nil {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		if len(ev.Report.Stages) != 1 || ev.Report.Stages[0].Stage != pipeline.StageNotify {
			return fmt.Errorf("unexpected report %+v", ev.Report)
		}
		return nil
	})

	p := newKafka(sp, "camenashi.incidents", nil)
	ev := Event{
		IncidentID: "inc-1",
		Type:       Finalized,
		Label:      "cat",
		At:         time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC),
		Report: &pipeline.Report{
			IncidentID: "inc-1",
			Stages:     []pipeline.StageResult{{Stage: pipeline.StageNotify, Status: pipeline.StatusOK}},
		},
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newKafka(sp, "camenashi.incidents", nil)
	err := p.Publish(context.Background(), Event{IncidentID: "inc-2", Type: Confirmed})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Publish() error = %v, want ErrOutOfBrokers", err)
	}
	p.Close()
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := newKafka(sp, "camenashi.incidents", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, Event{IncidentID: "inc-3"}); err == nil {
		t.Error("expected error for cancelled context")
	}
	p.Close()
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Error(err)
	}
}
