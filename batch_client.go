package upocr

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"github.com/streadway/amqp"
)

const ReplyTimeout = time.Minute * 5

// BatchClient publishes a BatchJob and waits for the worker's reply on a private
// callback queue. One connection per Submit.
type BatchClient struct {
	rabbitConfig RabbitConfig
	logger       zerolog.Logger
}

func NewBatchClient(rc RabbitConfig, logger zerolog.Logger) *BatchClient {
	return &BatchClient{
		rabbitConfig: rc,
		logger:       logger.With().Str("component", "OCR_BATCH_CLIENT").Logger(),
	}
}

// Submit blocks until the reply arrives or timeout passes. A zero timeout means ReplyTimeout.
func (c *BatchClient) Submit(job BatchJob, timeout time.Duration) (BatchReply, error) {
	if _, err := job.image(); err != nil {
		return BatchReply{}, err
	}
	if timeout <= 0 {
		timeout = ReplyTimeout
	}
	correlationID := ksuid.New().String()

	c.logger.Info().Str("host", stripPassword(c.rabbitConfig.AmqpURI)).Msg("dialing rabbitMq")
	conn, err := amqp.Dial(c.rabbitConfig.AmqpURI)
	if err != nil {
		return BatchReply{}, err
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		return BatchReply{}, err
	}

	if err := channel.ExchangeDeclare(
		c.rabbitConfig.Exchange,     // name
		c.rabbitConfig.ExchangeType, // type
		true,                        // durable
		false,                       // auto-deleted
		false,                       // internal
		false,                       // noWait
		nil,                         // arguments
	); err != nil {
		return BatchReply{}, err
	}

	// declare a callback queue where we will receive the reply
	callbackQueue, err := channel.QueueDeclare(
		"",    // name -- let rabbit generate a random one
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return BatchReply{}, err
	}

	if err = channel.QueueBind(
		callbackQueue.Name,      // name of the queue
		callbackQueue.Name,      // bindingKey
		c.rabbitConfig.Exchange, // sourceExchange
		false,                   // noWait
		nil,                     // arguments
	); err != nil {
		return BatchReply{}, err
	}

	deliveries, err := channel.Consume(
		callbackQueue.Name, // name
		correlationID,      // consumerTag,
		true,               // noAck
		true,               // exclusive
		false,              // noLocal
		false,              // noWait
		nil,                // arguments
	)
	if err != nil {
		return BatchReply{}, err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return BatchReply{}, err
	}

	if err = channel.Publish(
		c.rabbitConfig.Exchange,   // publish to an exchange
		c.rabbitConfig.RoutingKey, // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			Headers:       amqp.Table{},
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Transient,
			ReplyTo:       callbackQueue.Name,
			CorrelationId: correlationID,
		},
	); err != nil {
		return BatchReply{}, err
	}
	c.logger.Info().Str("RequestID", correlationID).Str("replyTo", callbackQueue.Name).Msg("job published")

	return awaitReply(deliveries, correlationID, timeout)
}

// awaitReply ignores deliveries for other correlation ids.
func awaitReply(deliveries <-chan amqp.Delivery, correlationID string, timeout time.Duration) (BatchReply, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return BatchReply{}, errors.New("reply channel closed before a reply arrived")
			}
			if d.CorrelationId != correlationID {
				continue
			}
			reply := BatchReply{}
			if err := json.Unmarshal(d.Body, &reply); err != nil {
				return BatchReply{}, errors.Wrap(err, "decoding batch reply")
			}
			return reply, nil
		case <-timer.C:
			return BatchReply{}, errors.Errorf("timeout waiting for reply to %s", correlationID)
		}
	}
}
