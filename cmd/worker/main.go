package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/esnafgo/marketplace/internal/config"
	"github.com/esnafgo/marketplace/internal/db"
	"github.com/esnafgo/marketplace/internal/notify"
	"github.com/esnafgo/marketplace/internal/store/rabbitmq"
)

// maxDeliveryAttempts bounds how often one dispatch is handed to a
// provider before it goes to the DLQ.
const maxDeliveryAttempts = 3

type dispatchMsg struct {
	DispatchID string `json:"dispatch_id"`
}

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

// retryDelay grows linearly with the attempt count.
func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts) * 10 * time.Second
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	repo := notify.NewRepo(gdb)

	// Provider registry (route by dispatch channel)
	reg := notify.NewRegistry()
	reg.Register("sms", func(ctx context.Context) (notify.Provider, error) {
		_ = ctx
		if cfg.SMSGatewayURL == "" {
			return &notify.LogProvider{Log: log.Printf}, nil
		}
		return notify.NewHTTPGateway(cfg.SMSGatewayURL, cfg.SMSGatewayKey), nil
	})

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	// dedicated channel for retry publishes; the consume channel stays
	// read-only
	pubCh, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit publish channel: %v", err)
	}
	defer pubCh.Close()

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for del := range jobs {
				var m dispatchMsg
				if err := json.Unmarshal(del.Body, &m); err != nil || m.DispatchID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = del.Nack(false, false)
					continue
				}

				start := time.Now()
				d, err := handleDispatch(ctx, repo, reg, m.DispatchID)
				if err != nil {
					log.Printf("worker=%d dispatch %s failed cost=%s err=%v", workerID, m.DispatchID, time.Since(start), err)

					if d != nil && d.Attempts < maxDeliveryAttempts {
						delay := retryDelay(d.Attempts)
						if pubErr := rabbitmq.PublishRetry(ctx, pubCh, cfg.RabbitQueue, m.DispatchID, delay); pubErr == nil {
							log.Printf("worker=%d dispatch %s retry in %s attempt=%d", workerID, m.DispatchID, delay, d.Attempts)
							_ = del.Ack(false)
							continue
						} else {
							log.Printf("worker=%d retry enqueue failed dispatch=%s err=%v", workerID, m.DispatchID, pubErr)
						}
					}

					// attempts exhausted (or retry enqueue failed): DLQ
					_ = del.Nack(false, false)
					continue
				}

				if err := del.Ack(false); err != nil {
					log.Printf("worker=%d ack failed dispatch=%s err=%v", workerID, m.DispatchID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleDispatch(ctx context.Context, repo *notify.Repo, reg *notify.Registry, dispatchID string) (*notify.Dispatch, error) {
	_ = repo.MarkRunning(ctx, dispatchID)

	d, err := repo.GetByID(ctx, dispatchID)
	if err != nil {
		return nil, err
	}

	provider, err := reg.Get(ctx, d.Channel)
	if err != nil {
		_ = repo.MarkFailed(ctx, dispatchID, err.Error())
		return d, err
	}

	if err := provider.Send(ctx, d.Recipient, d.Body); err != nil {
		_ = repo.MarkFailed(ctx, dispatchID, err.Error())
		return d, err
	}

	return d, repo.MarkSucceeded(ctx, dispatchID)
}
