package handlers

import (
	"encoding/hex"
	"time"

	"github.com/sage-x-project/compute-node/crypto/nodekey"
	"github.com/sage-x-project/compute-node/envelope"
	"github.com/sage-x-project/compute-node/executor"
	"github.com/sage-x-project/compute-node/internal/nodeerr"
	"github.com/sage-x-project/compute-node/p2p"
	"github.com/sage-x-project/compute-node/worker"
)

// TaskHandler parses inbound task requests into worker inputs, resolving
// the model and executor the task should run against.
type TaskHandler struct{}

// ListenTopic is the topic task requests arrive on.
func (TaskHandler) ListenTopic() string { return envelope.TopicTask }

// OnRequest handles an inbound task envelope. It returns either an
// acceptance verdict directly (deadline already passed — consumed but not
// enqueued) or a worker.Input for the orchestrator to submit to the pool.
func (TaskHandler) OnRequest(c Context, msg envelope.Message) (p2p.Acceptance, *worker.Input, error) {
	task, err := envelope.ParsePayload[TaskRequestPayload](msg, true)
	if err != nil {
		return p2p.Ignore, nil, nodeerr.New(nodeerr.Codec, "parse task request", err)
	}

	receivedAt := time.Now()
	if uint64(receivedAt.UnixNano()) >= task.Deadline {
		return p2p.Accept, nil, nil
	}

	pubKeyBytes, err := hex.DecodeString(task.PublicKey)
	if err != nil {
		return p2p.Ignore, nil, nodeerr.New(nodeerr.Codec, "decode requester public key", err)
	}
	if _, err := nodekey.ParseCompressedPublicKey(pubKeyBytes); err != nil {
		return p2p.Ignore, nil, nodeerr.New(nodeerr.Auth, "parse requester public key", err)
	}

	model, err := executor.ResolveModel(task.Input.Model, c.Models(), c.Rand())
	if err != nil {
		return p2p.Ignore, nil, nodeerr.New(nodeerr.Codec, "resolve model", err)
	}

	var exec executor.Executor
	batchable := !executor.IsLocalProvider(model.Provider)
	if !batchable {
		host, port := c.OllamaHostPort()
		exec = executor.NewOllamaExecutor(host, port)
	} else {
		exec = executor.NewRemoteExecutor(c.RemoteExecutorEndpoint())
	}

	input := &worker.Input{
		TaskID: task.TaskID,
		Executor: exec,
		Entry: executor.Entry{
			Workflow: task.Input.Workflow,
			Prompt:   task.Input.Prompt,
		},
		ModelName:          model.Name,
		RequesterPublicKey: pubKeyBytes,
		Stats: worker.Stats{
			ReceivedAt: receivedAt,
		},
		Deadline:  time.Unix(0, int64(task.Deadline)),
		Batchable: batchable,
	}

	return p2p.Accept, input, nil
}
