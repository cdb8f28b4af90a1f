package upocr

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/couchbaselabs/go.assert"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

type fakeRequester struct {
	result *ShapedResult
	err    error
	got    []ImageInput
}

func (f *fakeRequester) Request(image ImageInput, opts ...RequestOption) (*ShapedResult, error) {
	f.got = append(f.got, image)
	return f.result, f.err
}

func workerForTests(client Requester) *BatchWorker {
	return NewBatchWorker(DefaultRabbitConfig(), client, zerolog.Nop())
}

func TestBatchWorkerLogsToInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	worker := NewBatchWorker(DefaultRabbitConfig(), &fakeRequester{}, zerolog.New(&buf))

	reply := worker.replyForDelivery(amqp.Delivery{Body: []byte("{not json"), CorrelationId: "job-log"})
	assert.Equals(t, reply.Status, BatchStatusFailed)

	logged := buf.String()
	assert.True(t, strings.Contains(logged, `"component":"OCR_WORKER"`))
	assert.True(t, strings.Contains(logged, `"tag":"`+worker.tag+`"`))
	assert.True(t, strings.Contains(logged, `"RequestID":"job-log"`))
}

func TestReplyForDeliveryDone(t *testing.T) {
	fake := &fakeRequester{result: &ShapedResult{Target: TargetText, Text: "A B"}}
	worker := workerForTests(fake)

	body := `{"image_base64":"` + base64.StdEncoding.EncodeToString(pngHeader) + `","target":"text"}`
	reply := worker.replyForDelivery(amqp.Delivery{Body: []byte(body), CorrelationId: "job-1"})
	assert.Equals(t, reply.RequestID, "job-1")
	assert.Equals(t, reply.Status, BatchStatusDone)
	assert.Equals(t, string(reply.Result), `"A B"`)
	assert.Equals(t, len(fake.got), 1)
	assert.Equals(t, fake.got[0].Kind(), ImageKindBase64)
}

func TestReplyForDeliveryFailures(t *testing.T) {
	worker := workerForTests(&fakeRequester{err: &RejectedError{Confidence: 0.5, Threshold: 0.9}})
	reply := worker.replyForDelivery(amqp.Delivery{Body: []byte(`{"image_path":"/tmp/x.png"}`)})
	assert.Equals(t, reply.Status, BatchStatusRejected)
	assert.True(t, reply.RequestID != "")
	assert.Equals(t, reply.Error, "confidence insufficient: 0.5 < 0.9")

	worker = workerForTests(&fakeRequester{})
	reply = worker.replyForDelivery(amqp.Delivery{Body: []byte(`{"image_path":"/tmp/x.png"}`)})
	assert.Equals(t, reply.Status, BatchStatusEmpty)

	fake := &fakeRequester{}
	worker = workerForTests(fake)
	for _, body := range []string{`not json`, `{}`, `{"image_path":"a","image_base64":"b"}`} {
		reply = worker.replyForDelivery(amqp.Delivery{Body: []byte(body)})
		assert.Equals(t, reply.Status, BatchStatusFailed)
		assert.True(t, reply.Error != "")
	}
	// none of the broken jobs reached the client
	assert.Equals(t, len(fake.got), 0)
}

func TestReplyForDeliveryWithRealClient(t *testing.T) {
	backend := newMockBackend(t, http.StatusOK, []byte(pagesTwoWords))
	cfg := testClientConfig(backend.server.URL, &bytes.Buffer{})
	client, err := NewExtractor(cfg)
	assert.True(t, err == nil)
	worker := workerForTests(client)

	body := `{"image_base64":"` + base64.StdEncoding.EncodeToString(pngHeader) + `","target":"text_with_coords","confidence_threshold":0.5}`
	reply := worker.replyForDelivery(amqp.Delivery{Body: []byte(body), CorrelationId: "job-2"})
	assert.Equals(t, reply.Status, BatchStatusDone)

	var words []WordBox
	assert.True(t, json.Unmarshal(reply.Result, &words) == nil)
	assert.Equals(t, len(words), 2)
	assert.Equals(t, words[1].Text, "B")

	body = `{"image_base64":"` + base64.StdEncoding.EncodeToString(pngHeader) + `","confidence_threshold":1}`
	reply = worker.replyForDelivery(amqp.Delivery{Body: []byte(body), CorrelationId: "job-3"})
	assert.Equals(t, reply.Status, BatchStatusRejected)
}

func TestAwaitReply(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{CorrelationId: "someone-else", Body: []byte(`{"status":"done"}`)}
	deliveries <- amqp.Delivery{CorrelationId: "mine", Body: []byte(`{"request_id":"mine","status":"done","result":"A B"}`)}

	reply, err := awaitReply(deliveries, "mine", time.Second)
	assert.True(t, err == nil)
	assert.Equals(t, reply.RequestID, "mine")
	assert.Equals(t, string(reply.Result), `"A B"`)
}

func TestAwaitReplyTimeout(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	_, err := awaitReply(deliveries, "mine", 10*time.Millisecond)
	assert.True(t, err != nil)

	closed := make(chan amqp.Delivery)
	close(closed)
	_, err = awaitReply(closed, "mine", time.Second)
	assert.True(t, err != nil)
}
