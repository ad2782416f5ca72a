// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package network manages container networks and endpoint attachment.
package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// Builtin networks created at daemon startup. They can never be removed.
var builtinNetworks = []struct {
	name   string
	driver string
	subnet string
}{
	{"bridge", models.NetworkDriverBridge, "172.17.0.0/16"},
	{"host", models.NetworkDriverHost, ""},
	{"none", models.NetworkDriverNull, ""},
}

// NetworkRepository defines persistence operations for networks.
type NetworkRepository interface {
	Create(ctx context.Context, n *models.Network) error
	UpdateEndpoints(ctx context.Context, id string, endpoints []models.Endpoint) error
	Get(ctx context.Context, id string) (*models.Network, error)
	Resolve(ctx context.Context, ref string) (*models.Network, error)
	List(ctx context.Context) ([]*models.Network, error)
	Delete(ctx context.Context, id string) error
}

// Service provides network management operations.
type Service struct {
	repo   NetworkRepository
	logger *logger.Logger
}

// NewService creates a network service.
func NewService(repo NetworkRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, logger: log.Named("network")}
}

// EnsureBuiltin creates the bridge, host and none networks if missing.
// Called once at daemon bootstrap.
func (s *Service) EnsureBuiltin(ctx context.Context) error {
	for _, b := range builtinNetworks {
		n := &models.Network{
			ID:        models.GenerateID(),
			Name:      b.name,
			Driver:    b.driver,
			Scope:     models.ScopeLocal,
			Builtin:   true,
			Subnet:    b.subnet,
			CreatedAt: time.Now().UTC(),
		}
		if b.subnet != "" {
			gw, err := gatewayFor(b.subnet)
			if err != nil {
				return err
			}
			n.Gateway = gw
		}
		if err := s.repo.Create(ctx, n); err != nil && !apperrors.IsConflict(err) {
			return err
		}
	}
	return nil
}

// CreateOptions are the user-settable fields of a new network.
type CreateOptions struct {
	Name     string
	Driver   string
	Scope    models.NetworkScope
	Subnet   string
	Gateway  string
	Internal bool
	Labels   map[string]string
}

// Create creates a custom network. Builtin names are reserved.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*models.Network, error) {
	if opts.Name == "" {
		return nil, apperrors.InvalidInput("network name is required")
	}
	for _, b := range builtinNetworks {
		if opts.Name == b.name {
			return nil, apperrors.Conflict(fmt.Sprintf("network name %q is reserved", opts.Name))
		}
	}

	driver := opts.Driver
	if driver == "" {
		driver = models.NetworkDriverBridge
	}
	scope := opts.Scope
	if scope == "" {
		scope = models.ScopeLocal
	}
	if driver == models.NetworkDriverOverlay && scope != models.ScopeSwarm {
		return nil, apperrors.InvalidInput("overlay networks require swarm scope")
	}

	subnet := opts.Subnet
	if subnet == "" && driver == models.NetworkDriverBridge {
		subnet = "172.18.0.0/16"
	}
	gateway := opts.Gateway
	if subnet != "" {
		if _, _, err := net.ParseCIDR(subnet); err != nil {
			return nil, apperrors.InvalidInput(fmt.Sprintf("invalid subnet %q", subnet))
		}
		if gateway == "" {
			gw, err := gatewayFor(subnet)
			if err != nil {
				return nil, err
			}
			gateway = gw
		}
	}

	n := &models.Network{
		ID:        models.GenerateID(),
		Name:      opts.Name,
		Driver:    driver,
		Scope:     scope,
		Subnet:    subnet,
		Gateway:   gateway,
		Internal:  opts.Internal,
		Labels:    opts.Labels,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	s.logger.Info("network created", "name", n.Name, "id", n.ShortID(), "driver", driver)
	return n, nil
}

// Get resolves a network by full ID, ID prefix, or name.
func (s *Service) Get(ctx context.Context, ref string) (*models.Network, error) {
	return s.repo.Resolve(ctx, ref)
}

// List returns networks matching the filter args. Supported filters:
// name, id, driver, scope, label.
func (s *Service) List(ctx context.Context, args filters.Args) ([]*models.Network, error) {
	if err := args.Validate(map[string]bool{
		"name": true, "id": true, "driver": true, "scope": true, "label": true,
	}); err != nil {
		return nil, err
	}

	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Network, 0, len(all))
	for _, n := range all {
		if args.Contains("name") && !args.Match("name", n.Name) {
			continue
		}
		if args.Contains("id") && !args.MatchPrefix("id", n.ID) {
			continue
		}
		if args.Contains("driver") && !args.Match("driver", n.Driver) {
			continue
		}
		if args.Contains("scope") && !args.Match("scope", string(n.Scope)) {
			continue
		}
		if !args.MatchLabels(n.Labels) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Remove deletes a custom network. Builtin networks and networks with
// attached endpoints are never removed; containers are never silently
// detached.
func (s *Service) Remove(ctx context.Context, ref string) error {
	n, err := s.repo.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if n.Builtin {
		return apperrors.Conflict(fmt.Sprintf("%s is a pre-defined network and cannot be removed", n.Name))
	}
	if n.HasEndpoints() {
		return apperrors.InUse("network", n.Name,
			fmt.Sprintf("%d container(s) attached", len(n.Endpoints)))
	}
	if err := s.repo.Delete(ctx, n.ID); err != nil {
		return err
	}
	s.logger.Info("network removed", "name", n.Name, "id", n.ShortID())
	return nil
}

// ============================================================================
// Endpoint attachment
// ============================================================================

// Connect attaches a container to a network, allocating an address from
// the subnet pool and a derived MAC.
func (s *Service) Connect(ctx context.Context, ref, containerID string) (*models.Endpoint, error) {
	n, err := s.repo.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	for _, ep := range n.Endpoints {
		if ep.ContainerID == containerID {
			return nil, apperrors.Conflict(fmt.Sprintf(
				"container %s is already attached to network %s",
				models.TruncateID(containerID), n.Name))
		}
	}

	ep := models.Endpoint{
		ID:          models.GenerateID(),
		ContainerID: containerID,
	}
	if n.Subnet != "" {
		ip, err := allocateIP(n)
		if err != nil {
			return nil, err
		}
		ep.IPv4Address = ip.String()
		ep.MacAddress = macFromIP(ip)
	}

	endpoints := append(n.Endpoints, ep)
	if err := s.repo.UpdateEndpoints(ctx, n.ID, endpoints); err != nil {
		return nil, err
	}
	s.logger.Debug("endpoint connected",
		"network", n.Name, "container", models.TruncateID(containerID), "ip", ep.IPv4Address)
	return &ep, nil
}

// Disconnect detaches a container from a network.
func (s *Service) Disconnect(ctx context.Context, ref, containerID string, force bool) error {
	n, err := s.repo.Resolve(ctx, ref)
	if err != nil {
		return err
	}

	kept := n.Endpoints[:0]
	found := false
	for _, ep := range n.Endpoints {
		if ep.ContainerID == containerID {
			found = true
			continue
		}
		kept = append(kept, ep)
	}
	if !found {
		if force {
			return nil
		}
		return apperrors.NotFound("endpoint", models.TruncateID(containerID))
	}
	return s.repo.UpdateEndpoints(ctx, n.ID, kept)
}

// DisconnectAll detaches a container from every network it is on, used
// when the container is removed.
func (s *Service) DisconnectAll(ctx context.Context, containerID string) error {
	all, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, n := range all {
		for _, ep := range n.Endpoints {
			if ep.ContainerID == containerID {
				if err := s.Disconnect(ctx, n.ID, containerID, true); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

// ============================================================================
// Address allocation
// ============================================================================

// allocateIP returns the lowest free host address in the network's
// subnet, skipping the network address, the gateway, and taken addresses.
func allocateIP(n *models.Network) (net.IP, error) {
	_, ipnet, err := net.ParseCIDR(n.Subnet)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid subnet %q", n.Subnet))
	}

	taken := make(map[string]bool, len(n.Endpoints)+1)
	taken[n.Gateway] = true
	for _, ep := range n.Endpoints {
		taken[ep.IPv4Address] = true
	}

	ip := nextIP(ipnet.IP.To4())
	for ; ipnet.Contains(ip); ip = nextIP(ip) {
		if isBroadcast(ip, ipnet) {
			break
		}
		if !taken[ip.String()] {
			return ip, nil
		}
	}
	return nil, apperrors.NoSpace(fmt.Sprintf("no available IPv4 addresses in subnet %s", n.Subnet))
}

func nextIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func isBroadcast(ip net.IP, ipnet *net.IPNet) bool {
	for i := range ip {
		if ip[i]|^ipnet.Mask[i] != ip[i] {
			return false
		}
	}
	return true
}

// macFromIP derives a stable locally-administered MAC from the IPv4
// address, 02:42 prefix style.
func macFromIP(ip net.IP) string {
	v4 := ip.To4()
	return fmt.Sprintf("02:42:%02x:%02x:%02x:%02x", v4[0], v4[1], v4[2], v4[3])
}

func gatewayFor(subnet string) (string, error) {
	_, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		return "", apperrors.InvalidInput(fmt.Sprintf("invalid subnet %q", subnet))
	}
	return nextIP(ipnet.IP.To4()).String(), nil
}
