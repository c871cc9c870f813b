package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/and161185/cafe-backoffice/internal/metrics"
)

// TypeSendCode is the asynq task type for code e-mails.
const TypeSendCode = "email:send_code"

type sendCodePayload struct {
	To      string `json:"to"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher enqueues code e-mails for asynchronous delivery.
// A nil error means the task was accepted by the queue, not that it was delivered.
type QueueDispatcher struct {
	client enqueuer
	closer func() error
	log    *zap.Logger
}

// NewQueueDispatcher connects an asynq client to Redis.
func NewQueueDispatcher(redisOpt asynq.RedisClientOpt, log *zap.Logger) *QueueDispatcher {
	c := asynq.NewClient(redisOpt)
	return &QueueDispatcher{client: c, closer: c.Close, log: log}
}

// Close releases the Redis connection.
func (q *QueueDispatcher) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}

// SendCode enqueues the delivery. A queued task expires together with the code.
func (q *QueueDispatcher) SendCode(ctx context.Context, to, code, purpose string) error {
	payload, err := json.Marshal(sendCodePayload{To: to, Code: code, Purpose: purpose})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeSendCode, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
		asynq.Deadline(time.Now().Add(10*time.Minute)),
	)
	metrics.RecordDispatch("queue", err == nil)
	if err != nil {
		q.log.Warn("enqueue code e-mail failed", zap.Error(err), zap.String("purpose", purpose))
		return fmt.Errorf("enqueue %s: %w", TypeSendCode, err)
	}
	return nil
}

var _ Dispatcher = (*QueueDispatcher)(nil)

// Worker runs the asynq handler that delivers queued code e-mails.
type Worker struct {
	srv      *asynq.Server
	mux      *asynq.ServeMux
	delivery Dispatcher
	log      *zap.Logger
}

// NewWorker creates an asynq server delivering through d. Call Run to start.
func NewWorker(redisOpt asynq.RedisClientOpt, d Dispatcher, log *zap.Logger) *Worker {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		LogLevel:    asynq.WarnLevel,
	})
	w := &Worker{srv: srv, mux: asynq.NewServeMux(), delivery: d, log: log}
	w.mux.HandleFunc(TypeSendCode, w.handleSendCode)
	return w
}

func (w *Worker) handleSendCode(ctx context.Context, t *asynq.Task) error {
	var p sendCodePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		w.log.Error("send code task payload invalid", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := w.delivery.SendCode(ctx, p.To, p.Code, p.Purpose); err != nil {
		w.log.Warn("code e-mail delivery failed", zap.Error(err), zap.String("purpose", p.Purpose))
		return err
	}
	return nil
}

// Run starts processing tasks. It returns once the server is running.
func (w *Worker) Run() error {
	return w.srv.Start(w.mux)
}

// Shutdown stops the worker gracefully.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}
