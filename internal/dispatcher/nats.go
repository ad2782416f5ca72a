// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// Subjects. Assignments are requests so the manager learns the container
// ID (or the failure) synchronously; each node listens on its own pair.
const (
	subjectAssign   = "task.assign.%s"   // + node ID
	subjectShutdown = "task.shutdown.%s" // + node ID
	agentQueue      = "stevedore-agent"
)

// assignment is the wire form of a dispatched task.
type assignment struct {
	Task *models.Task       `json:"task"`
	Spec models.ServiceSpec `json:"spec"`
}

// assignReply is the agent's answer.
type assignReply struct {
	ContainerID string `json:"container_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Remote fans task assignments out to worker agents over NATS.
type Remote struct {
	client *Client
	logger *logger.Logger
}

// NewRemote wires the NATS-backed dispatcher.
func NewRemote(client *Client, log *logger.Logger) *Remote {
	if log == nil {
		log = logger.Nop()
	}
	return &Remote{client: client, logger: log.Named("dispatcher.remote")}
}

// Dispatch forwards the assignment to the owning node and waits for the
// container ID.
func (d *Remote) Dispatch(ctx context.Context, task *models.Task, spec models.ServiceSpec) (string, error) {
	payload, err := json.Marshal(assignment{Task: task, Spec: spec})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "encode assignment")
	}

	subject := fmt.Sprintf(subjectAssign, task.NodeID)
	msg, err := d.client.Request(subject, payload, d.client.config.RequestTimeout)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeTimeout,
			"node %s did not accept task %s", task.NodeID, task.ID)
	}

	var reply assignReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "decode assignment reply")
	}
	if reply.Error != "" {
		return "", apperrors.New(apperrors.CodeInternal, reply.Error)
	}
	return reply.ContainerID, nil
}

// Shutdown tells the owning node to stop the task's container.
func (d *Remote) Shutdown(ctx context.Context, task *models.Task) error {
	payload, err := json.Marshal(assignment{Task: task})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode shutdown")
	}
	subject := fmt.Sprintf(subjectShutdown, task.NodeID)
	msg, err := d.client.Request(subject, payload, d.client.config.RequestTimeout)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeTimeout,
			"node %s did not acknowledge shutdown of task %s", task.NodeID, task.ID)
	}
	var reply assignReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "decode shutdown reply")
	}
	if reply.Error != "" {
		return apperrors.New(apperrors.CodeInternal, reply.Error)
	}
	return nil
}

// Agent is the worker-node side: it executes assignments for its node ID
// through the local dispatcher and replies with the outcome.
type Agent struct {
	client *Client
	local  *Local
	nodeID string
	logger *logger.Logger

	subs []*nats.Subscription
}

// NewAgent wires a worker agent for one node.
func NewAgent(client *Client, local *Local, nodeID string, log *logger.Logger) *Agent {
	if log == nil {
		log = logger.Nop()
	}
	return &Agent{client: client, local: local, nodeID: nodeID, logger: log.Named("agent")}
}

// Start subscribes to this node's assignment subjects.
func (a *Agent) Start(ctx context.Context) error {
	assignSub, err := a.client.QueueSubscribe(
		fmt.Sprintf(subjectAssign, a.nodeID), agentQueue, a.handleAssign(ctx))
	if err != nil {
		return err
	}
	shutdownSub, err := a.client.QueueSubscribe(
		fmt.Sprintf(subjectShutdown, a.nodeID), agentQueue, a.handleShutdown(ctx))
	if err != nil {
		assignSub.Unsubscribe()
		return err
	}
	a.subs = []*nats.Subscription{assignSub, shutdownSub}
	a.logger.Info("agent listening", "node_id", a.nodeID)
	return nil
}

// Stop drops the subscriptions.
func (a *Agent) Stop() {
	for _, sub := range a.subs {
		if err := sub.Unsubscribe(); err != nil {
			a.logger.Warn("unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	a.subs = nil
}

func (a *Agent) handleAssign(ctx context.Context) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var asn assignment
		if err := json.Unmarshal(msg.Data, &asn); err != nil {
			a.reply(msg, assignReply{Error: "malformed assignment: " + err.Error()})
			return
		}
		containerID, err := a.local.Dispatch(ctx, asn.Task, asn.Spec)
		if err != nil {
			a.reply(msg, assignReply{Error: err.Error()})
			return
		}
		a.reply(msg, assignReply{ContainerID: containerID})
	}
}

func (a *Agent) handleShutdown(ctx context.Context) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var asn assignment
		if err := json.Unmarshal(msg.Data, &asn); err != nil {
			a.reply(msg, assignReply{Error: "malformed shutdown: " + err.Error()})
			return
		}
		if err := a.local.Shutdown(ctx, asn.Task); err != nil {
			a.reply(msg, assignReply{Error: err.Error()})
			return
		}
		a.reply(msg, assignReply{})
	}
}

func (a *Agent) reply(msg *nats.Msg, r assignReply) {
	data, err := json.Marshal(r)
	if err != nil {
		a.logger.Error("encode reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		a.logger.Error("respond failed", "subject", msg.Subject, "error", err)
	}
}
