// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package swarm implements the cluster orchestrator: membership, the
// desired-state reconciler, task scheduling and rolling updates.
package swarm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

const joinTokenTTL = 24 * time.Hour

// clusterState is the persisted swarm membership state of this daemon.
type clusterState struct {
	ClusterID   string    `json:"cluster_id"`
	NodeID      uuid.UUID `json:"node_id"`
	TokenSecret string    `json:"token_secret"`
	Locked      bool      `json:"locked"`
	UnlockKey   string    `json:"unlock_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Cluster manages swarm membership and join tokens. State survives
// daemon restarts through a JSON file under the data root.
type Cluster struct {
	nodes    NodeRepository
	dataRoot string
	logger   *logger.Logger

	mu       sync.Mutex
	state    *clusterState
	unlocked bool
}

// NewCluster loads any persisted swarm state from dataRoot.
func NewCluster(nodes NodeRepository, dataRoot string, log *logger.Logger) (*Cluster, error) {
	if log == nil {
		log = logger.Nop()
	}
	c := &Cluster{nodes: nodes, dataRoot: dataRoot, logger: log.Named("cluster")}

	raw, err := os.ReadFile(c.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "read swarm state")
	}
	var st clusterState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "decode swarm state")
	}
	c.state = &st
	c.unlocked = !st.Locked
	return c, nil
}

func (c *Cluster) statePath() string {
	return filepath.Join(c.dataRoot, "swarm", "state.json")
}

func (c *Cluster) persist() error {
	dir := filepath.Dir(c.statePath())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "create swarm dir")
	}
	raw, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode swarm state")
	}
	tmp := c.statePath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "write swarm state")
	}
	return os.Rename(tmp, c.statePath())
}

// Active reports whether this daemon is part of a swarm.
func (c *Cluster) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != nil
}

// NodeID returns this daemon's node ID in the swarm.
func (c *Cluster) NodeID() (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return uuid.Nil, apperrors.Conflict("this node is not part of a swarm")
	}
	return c.state.NodeID, nil
}

// InitOptions configure swarm initialization.
type InitOptions struct {
	AdvertiseAddr string
	Hostname      string
	// Autolock requires `swarm unlock` with the returned key after a
	// daemon restart.
	Autolock bool
}

// InitResult reports the new cluster's identity and unlock key.
type InitResult struct {
	ClusterID string
	NodeID    uuid.UUID
	UnlockKey string
}

// Init creates a new single-manager swarm with this daemon as leader.
func (c *Cluster) Init(ctx context.Context, opts InitOptions) (*InitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		return nil, apperrors.Conflict("this node is already part of a swarm: leave it first")
	}

	st := &clusterState{
		ClusterID:   uuid.New().String(),
		NodeID:      uuid.New(),
		TokenSecret: randomSecret(),
		CreatedAt:   time.Now().UTC(),
	}
	if opts.Autolock {
		st.Locked = true
		st.UnlockKey = randomSecret()
	}

	node := &models.Node{
		ID:           st.NodeID,
		Hostname:     opts.Hostname,
		Role:         models.RoleManager,
		Availability: models.AvailabilityActive,
		Status:       models.NodeStatusReady,
		Addr:         opts.AdvertiseAddr,
		IsLeader:     true,
		JoinedAt:     st.CreatedAt,
	}
	if err := c.nodes.Upsert(ctx, node); err != nil {
		return nil, err
	}

	c.state = st
	c.unlocked = true
	if err := c.persist(); err != nil {
		return nil, err
	}
	c.logger.Info("swarm initialized", "cluster_id", st.ClusterID, "node_id", st.NodeID)
	return &InitResult{ClusterID: st.ClusterID, NodeID: st.NodeID, UnlockKey: st.UnlockKey}, nil
}

// ============================================================================
// Join tokens
// ============================================================================

type joinClaims struct {
	ClusterID string `json:"cluster_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// JoinToken mints a signed token admitting a node with the given role.
func (c *Cluster) JoinToken(role models.NodeRole) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return "", apperrors.Conflict("this node is not part of a swarm")
	}
	if role != models.RoleManager && role != models.RoleWorker {
		return "", apperrors.InvalidInput(fmt.Sprintf("invalid role %q", role))
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, joinClaims{
		ClusterID: c.state.ClusterID,
		Role:      string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(joinTokenTTL)),
		},
	})
	return token.SignedString([]byte(c.state.TokenSecret))
}

// validateJoinToken checks the signature and expiry and returns the role
// the token admits.
func (c *Cluster) validateJoinToken(token string) (models.NodeRole, error) {
	c.mu.Lock()
	secret := ""
	if c.state != nil {
		secret = c.state.TokenSecret
	}
	c.mu.Unlock()
	if secret == "" {
		return "", apperrors.Conflict("this node is not part of a swarm")
	}

	var claims joinClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", apperrors.New(apperrors.CodeBadRequest, "invalid join token").WithDetail("cause", fmt.Sprint(err))
	}
	return models.NodeRole(claims.Role), nil
}

// JoinRequest is a node asking to enter the swarm.
type JoinRequest struct {
	Token        string
	Hostname     string
	Addr         string
	EngineLabels map[string]string
}

// Join admits a node carrying a valid join token.
func (c *Cluster) Join(ctx context.Context, req JoinRequest) (*models.Node, error) {
	role, err := c.validateJoinToken(req.Token)
	if err != nil {
		return nil, err
	}

	node := &models.Node{
		ID:           uuid.New(),
		Hostname:     req.Hostname,
		Role:         role,
		Availability: models.AvailabilityActive,
		Status:       models.NodeStatusReady,
		Addr:         req.Addr,
		EngineLabels: req.EngineLabels,
		JoinedAt:     time.Now().UTC(),
	}
	if err := c.nodes.Upsert(ctx, node); err != nil {
		return nil, err
	}
	c.logger.Info("node joined", "node_id", node.ID, "hostname", node.Hostname, "role", role)
	return node, nil
}

// Leave removes this daemon from the swarm. The last manager requires
// force, since leaving dissolves the cluster.
func (c *Cluster) Leave(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return apperrors.Conflict("this node is not part of a swarm")
	}
	selfID := c.state.NodeID
	c.mu.Unlock()

	self, err := c.nodes.Get(ctx, selfID)
	if err == nil && self.Role == models.RoleManager && !force {
		nodes, err := c.nodes.List(ctx)
		if err != nil {
			return err
		}
		managers := 0
		for _, n := range nodes {
			if n.Role == models.RoleManager {
				managers++
			}
		}
		if managers <= 1 {
			return apperrors.Conflict(
				"leaving as the last manager erases the cluster: use force to confirm")
		}
	}

	if err := c.nodes.Delete(ctx, selfID); err != nil && !apperrors.IsNotFound(err) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = nil
	c.unlocked = false
	if err := os.Remove(c.statePath()); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(err, apperrors.CodeInternal, "remove swarm state")
	}
	c.logger.Info("left swarm", "node_id", selfID)
	return nil
}

// ============================================================================
// Autolock
// ============================================================================

// Locked reports whether the manager is waiting for an unlock key.
func (c *Cluster) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != nil && c.state.Locked && !c.unlocked
}

// Unlock accepts the autolock key after a daemon restart.
func (c *Cluster) Unlock(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return apperrors.Conflict("this node is not part of a swarm")
	}
	if !c.state.Locked {
		return apperrors.Conflict("swarm is not locked")
	}
	if c.unlocked {
		return nil
	}
	if key != c.state.UnlockKey {
		return apperrors.New(apperrors.CodeBadRequest, "invalid unlock key")
	}
	c.unlocked = true
	c.logger.Info("swarm unlocked")
	return nil
}

// ============================================================================
// Node management
// ============================================================================

// UpdateNodeAvailability sets a node active, paused, or draining.
func (c *Cluster) UpdateNodeAvailability(ctx context.Context, id uuid.UUID, av models.NodeAvailability) error {
	switch av {
	case models.AvailabilityActive, models.AvailabilityPause, models.AvailabilityDrain:
	default:
		return apperrors.InvalidInput(fmt.Sprintf("invalid availability %q", av))
	}
	n, err := c.nodes.Get(ctx, id)
	if err != nil {
		return err
	}
	n.Availability = av
	return c.nodes.Upsert(ctx, n)
}

// UpdateNodeLabels replaces a node's operator labels.
func (c *Cluster) UpdateNodeLabels(ctx context.Context, id uuid.UUID, labels map[string]string) error {
	n, err := c.nodes.Get(ctx, id)
	if err != nil {
		return err
	}
	n.Labels = labels
	return c.nodes.Upsert(ctx, n)
}

// PromoteNode makes a worker a manager; DemoteNode the reverse.
func (c *Cluster) PromoteNode(ctx context.Context, id uuid.UUID) error {
	return c.setRole(ctx, id, models.RoleManager)
}

// DemoteNode turns a manager into a worker. The last manager cannot be
// demoted.
func (c *Cluster) DemoteNode(ctx context.Context, id uuid.UUID) error {
	nodes, err := c.nodes.List(ctx)
	if err != nil {
		return err
	}
	managers := 0
	for _, n := range nodes {
		if n.Role == models.RoleManager {
			managers++
		}
	}
	if managers <= 1 {
		return apperrors.Conflict("cannot demote the last manager")
	}
	return c.setRole(ctx, id, models.RoleWorker)
}

func (c *Cluster) setRole(ctx context.Context, id uuid.UUID, role models.NodeRole) error {
	n, err := c.nodes.Get(ctx, id)
	if err != nil {
		return err
	}
	n.Role = role
	return c.nodes.Upsert(ctx, n)
}

// RemoveNode deletes a node record. Nodes that are still ready require
// force.
func (c *Cluster) RemoveNode(ctx context.Context, id uuid.UUID, force bool) error {
	n, err := c.nodes.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.Status == models.NodeStatusReady && !force {
		return apperrors.Conflict(fmt.Sprintf(
			"node %s is ready: drain it first or use force", n.Hostname))
	}
	return c.nodes.Delete(ctx, id)
}

// ListNodes returns all cluster members.
func (c *Cluster) ListNodes(ctx context.Context) ([]*models.Node, error) {
	return c.nodes.List(ctx)
}

func randomSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
