package upocr

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"github.com/streadway/amqp"
)

const confirmTimeout = time.Minute

// Requester is what the batch worker needs from a client.
type Requester interface {
	Request(image ImageInput, opts ...RequestOption) (*ShapedResult, error)
}

// BatchJob is the body of an amqp message asking for one image to be processed.
// Exactly one of ImageBase64 and ImagePath should be set.
type BatchJob struct {
	ImageBase64         string   `json:"image_base64,omitempty"`
	ImagePath           string   `json:"image_path,omitempty"`
	Target              Target   `json:"target"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

const (
	BatchStatusDone     = "done"
	BatchStatusEmpty    = "empty"
	BatchStatusRejected = "rejected"
	BatchStatusFailed   = "failed"
)

type BatchReply struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	// Result is the shaped result as JSON: an object, a string or a list of words.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (j BatchJob) image() (ImageInput, error) {
	switch {
	case j.ImageBase64 != "" && j.ImagePath != "":
		return ImageInput{}, invalidInput(nil, "job carries both image_base64 and image_path")
	case j.ImagePath != "":
		return ImageFromPath(j.ImagePath), nil
	case j.ImageBase64 != "":
		return ImageFromBase64(j.ImageBase64), nil
	}
	return ImageInput{}, invalidInput(nil, "job carries no image")
}

func (j BatchJob) options() []RequestOption {
	opts := []RequestOption{WithTarget(j.Target)}
	if j.ConfidenceThreshold != nil {
		opts = append(opts, WithConfidenceThreshold(*j.ConfidenceThreshold))
	}
	return opts
}

// BatchWorker consumes BatchJobs from RabbitMQ and publishes a BatchReply to each
// message's ReplyTo queue. A bad job never stops the worker.
type BatchWorker struct {
	rabbitConfig RabbitConfig
	client       Requester
	conn         *amqp.Connection
	channel      *amqp.Channel
	confirms     chan amqp.Confirmation
	tag          string
	logger       zerolog.Logger
	Done         chan error
}

// NewBatchWorker tags every line of logger with the worker's component and consumer tag.
func NewBatchWorker(rc RabbitConfig, client Requester, logger zerolog.Logger) *BatchWorker {
	// tag is based on ksuid K-Sortable Globally Unique IDs
	tag := ksuid.New().String()
	return &BatchWorker{
		rabbitConfig: rc,
		client:       client,
		tag:          tag,
		logger:       logger.With().Str("component", "OCR_WORKER").Str("tag", tag).Logger(),
		Done:         make(chan error, 1),
	}
}

func (w *BatchWorker) Run() error {
	var err error

	w.logger.Info().Str("host", stripPassword(w.rabbitConfig.AmqpURI)).Msg("dialing rabbitMq")

	w.conn, err = amqp.Dial(w.rabbitConfig.AmqpURI)
	if err != nil {
		w.logger.Warn().Err(err).Msg("error connecting to rabbitMq")
		return err
	}

	go func() {
		if closeErr := <-w.conn.NotifyClose(make(chan *amqp.Error, 1)); closeErr != nil {
			w.logger.Warn().Str("reason", closeErr.Error()).Msg("amqp connection closed")
		}
	}()

	w.logger.Info().Msg("got Connection, getting channel")
	w.channel, err = w.conn.Channel()
	if err != nil {
		return err
	}

	// a small prefetch keeps one worker from hoarding a large batch
	if err = w.channel.Qos(w.rabbitConfig.Prefetch, 0, false); err != nil {
		return err
	}

	if err = w.channel.ExchangeDeclare(
		w.rabbitConfig.Exchange,     // name of the exchange
		w.rabbitConfig.ExchangeType, // type
		true,                        // durable
		false,                       // delete when complete
		false,                       // internal
		false,                       // noWait
		nil,                         // arguments
	); err != nil {
		return err
	}

	// just use the routing key as the queue name, since there's no reason
	// to have a different name
	queue, err := w.channel.QueueDeclare(
		w.rabbitConfig.RoutingKey, // name of the queue
		true,                      // durable
		false,                     // delete when unused
		false,                     // exclusive
		false,                     // noWait
		nil,                       // arguments
	)
	if err != nil {
		return err
	}

	w.logger.Info().Str("RoutingKey", w.rabbitConfig.RoutingKey).Msg("binding to routing key")
	if err = w.channel.QueueBind(
		queue.Name,                // name of the queue
		w.rabbitConfig.RoutingKey, // bindingKey
		w.rabbitConfig.Exchange,   // sourceExchange
		false,                     // noWait
		nil,                       // arguments
	); err != nil {
		return err
	}

	if w.rabbitConfig.Reliable {
		if err := w.channel.Confirm(false); err != nil {
			return err
		}
		w.confirms = w.channel.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	w.logger.Info().Msg("Queue bound to Exchange, starting Consume")
	deliveries, err := w.channel.Consume(
		queue.Name, // name
		w.tag,      // consumerTag,
		false,      // noAck
		false,      // exclusive
		false,      // noLocal
		false,      // noWait
		nil,        // arguments
	)
	if err != nil {
		return err
	}

	go w.handle(deliveries)

	return nil
}

func (w *BatchWorker) Shutdown() error {
	// will close() the deliveries channel
	if err := w.channel.Cancel(w.tag, true); err != nil {
		return fmt.Errorf("worker with tag %s cancel failed: %s", w.tag, err)
	}

	if err := w.conn.Close(); err != nil {
		return fmt.Errorf("AMQP connection with worker %s close error: %s", w.tag, err)
	}

	defer w.logger.Info().Msg("Shutdown OK")

	// wait for handle() to exit
	return <-w.Done
}

func (w *BatchWorker) handle(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		w.logger.Info().
			Int("msg_size", len(d.Body)).
			Str("CorrelationId", d.CorrelationId).
			Str("ReplyTo", d.ReplyTo).
			Uint64("DeliveryTag", d.DeliveryTag).
			Msg("got delivery")

		reply := w.replyForDelivery(d)

		if d.ReplyTo == "" {
			w.logger.Warn().Str("RequestID", reply.RequestID).Str("status", reply.Status).
				Msg("delivery has no ReplyTo, result dropped")
		} else if err := w.sendReply(reply, d.ReplyTo, d.CorrelationId); err != nil {
			w.logger.Error().Err(err).Str("RequestID", reply.RequestID).Msg("error sending reply")
			// if we can't send our response, let's just abort
			_ = d.Nack(false, true)
			w.Done <- err
			return
		}

		if err := d.Ack(false); err != nil {
			w.logger.Warn().Err(err).Msg("Ack() was not successful")
		}
	}
	w.logger.Info().Msg("handle: deliveries channel closed")
	w.Done <- errors.New("handle: deliveries channel closed")
}

// replyForDelivery runs one job. Failures end up in the reply, never in the worker.
func (w *BatchWorker) replyForDelivery(d amqp.Delivery) BatchReply {
	reply := BatchReply{RequestID: d.CorrelationId}
	if reply.RequestID == "" {
		reply.RequestID = ksuid.New().String()
	}

	job := BatchJob{}
	if err := json.Unmarshal(d.Body, &job); err != nil {
		w.logger.Error().Err(err).Str("RequestID", reply.RequestID).Msg("error unmarshalling json delivery")
		reply.Status = BatchStatusFailed
		reply.Error = fmt.Sprintf("unable to unmarshal job: %v", err)
		return reply
	}

	image, err := job.image()
	if err == nil {
		var result *ShapedResult
		result, err = w.client.Request(image, job.options()...)
		if err == nil && result != nil {
			if reply.Result, err = json.Marshal(result); err == nil {
				reply.Status = BatchStatusDone
				return reply
			}
		}
	}

	var rejected *RejectedError
	switch {
	case err == nil:
		// a permissive client already logged why
		reply.Status = BatchStatusEmpty
	case errors.As(err, &rejected):
		reply.Status = BatchStatusRejected
		reply.Error = err.Error()
	default:
		reply.Status = BatchStatusFailed
		reply.Error = err.Error()
	}
	w.logger.Info().Str("RequestID", reply.RequestID).Str("status", reply.Status).Msg("job finished without result")
	return reply
}

func (w *BatchWorker) sendReply(r BatchReply, replyTo string, correlationID string) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}

	if err := w.channel.Publish(
		w.rabbitConfig.Exchange, // publish to an exchange
		replyTo,                 // routing to 0 or more queues
		false,                   // mandatory
		false,                   // immediate
		amqp.Publishing{
			Headers:       amqp.Table{},
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Transient, // 1=non-persistent, 2=persistent
			Priority:      0,              // 0-9
			CorrelationId: correlationID,
		},
	); err != nil {
		return err
	}

	if w.confirms != nil {
		select {
		case confirm := <-w.confirms:
			if !confirm.Ack {
				return errors.Errorf("reply %s was nacked by the broker", r.RequestID)
			}
		case <-time.After(confirmTimeout):
			return errors.Errorf("timeout waiting for confirmation of reply %s", r.RequestID)
		}
	}

	w.logger.Info().Str("RequestID", r.RequestID).Str("replyTo", replyTo).Msg("sendReply succeeded")
	return nil
}
