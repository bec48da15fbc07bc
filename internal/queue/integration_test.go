//go:build integration

package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/queue"
)

// setupRabbitMQ creates a RabbitMQ container for testing
func setupRabbitMQ(t *testing.T) (string, func()) {
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get AMQP URL: %v", err)
	}

	cleanup := func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return amqpURL, cleanup
}

func TestIntegration_Connection_ConnectAndClose(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL, "")
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	if !conn.IsConnected() {
		t.Error("expected connection to be active")
	}
	if conn.Queue() != queue.DefaultQueueName {
		t.Errorf("Queue() = %q; want %q", conn.Queue(), queue.DefaultQueueName)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("failed to close connection: %v", err)
	}
	if conn.IsConnected() {
		t.Error("expected connection to be closed")
	}
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	_, err := queue.NewConnection("amqp://invalid:5672", "")
	if err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestIntegration_Connection_DeclaresQueue(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL, "techshelf.test")
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	q, err := conn.Channel().QueueInspect("techshelf.test")
	if err != nil {
		t.Fatalf("failed to inspect queue: %v", err)
	}
	if q.Messages != 0 {
		t.Errorf("expected empty queue, got %d messages", q.Messages)
	}
}

func TestIntegration_ActivityPublisher_DeliversEvents(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL, "")
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	publisher := queue.NewActivityPublisher(conn, conn.Queue())
	dispatcher := domain.NewEventDispatcher()
	publisher.Attach(dispatcher.Subscribe)

	dispatcher.Publish(domain.NewCartMergedEvent(2, nil))
	dispatcher.Publish(domain.NewOrderPlacedEvent("7", 2, decimal.RequireFromString("20.00")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.Close(ctx); err != nil {
		t.Fatalf("failed to flush publisher: %v", err)
	}

	ch := conn.Channel()
	q, err := ch.QueueInspect(conn.Queue())
	if err != nil {
		t.Fatalf("failed to inspect queue: %v", err)
	}
	if q.Messages != 2 {
		t.Fatalf("expected 2 messages in queue, got %d", q.Messages)
	}

	wantTypes := []string{domain.EventCartMerged, domain.EventOrderPlaced}
	for i, want := range wantTypes {
		msg, ok, err := ch.Get(conn.Queue(), true)
		if err != nil || !ok {
			t.Fatalf("failed to get message %d: ok=%v err=%v", i, ok, err)
		}
		if msg.ContentType != "application/json" {
			t.Errorf("ContentType = %q; want application/json", msg.ContentType)
		}

		var activity struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg.Body, &activity); err != nil {
			t.Fatalf("failed to decode message %d: %v", i, err)
		}
		if activity.Type != want {
			t.Errorf("message %d type = %q; want %q", i, activity.Type, want)
		}
	}
}
