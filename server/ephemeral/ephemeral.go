// Package ephemeral starts and stops throwaway Redis containers used as
// migration destinations.
package ephemeral

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/server/util/log"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/retry"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	// Label marks every container started by this package.
	Label = "redis_memory_usage"

	DefaultImage        = "redis"
	DefaultTag          = "latest"
	DefaultHostIP       = "127.0.0.1"
	DefaultReadyTimeout = 30 * time.Second

	namePrefix        = "rmu-redis-"
	readyPollInterval = 50 * time.Millisecond
	readyMaxBackoff   = 500 * time.Millisecond
)

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name     string
	Image    string
	Label    string
	HostIP   string
	HostPort int
}

type Container struct {
	ID    string
	Name  string
	State string
}

// Runtime is the container engine used by Manager.
type Runtime interface {
	Pull(ctx context.Context, ref string) error
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	List(ctx context.Context, label string) ([]Container, error)
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Close() error
}

type Options struct {
	Image    string
	Tag      string
	HostIP   string
	HostPort int
}

func (o Options) withDefaults() Options {
	if o.Image == "" {
		o.Image = DefaultImage
	}
	if o.Tag == "" {
		o.Tag = DefaultTag
	}
	if o.HostIP == "" {
		o.HostIP = DefaultHostIP
	}
	if o.HostPort == 0 {
		o.HostPort = redisutil.DefaultPort
	}
	return o
}

// Instance is a running container answering PING on Addr.
type Instance struct {
	ID   string
	Name string
	Addr string
}

// PingFunc checks whether a store answers at addr.
type PingFunc func(ctx context.Context, addr string) error

func pingRedis(ctx context.Context, addr string) error {
	rdb := redisutil.NewClient(redisutil.TargetToOptions(addr, 0))
	defer rdb.Close()
	hc := redisutil.HealthChecker{Rdb: rdb}
	return hc.Check(ctx)
}

type Manager struct {
	rt    Runtime
	clock clockwork.Clock
	ping  PingFunc

	// ReadyTimeout bounds how long Provision waits for PING to succeed.
	ReadyTimeout time.Duration
}

// NewManager returns a Manager on rt. A nil clock or ping selects the real
// clock and a go-redis PING.
func NewManager(rt Runtime, clock clockwork.Clock, ping PingFunc) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ping == nil {
		ping = pingRedis
	}
	return &Manager{
		rt:           rt,
		clock:        clock,
		ping:         ping,
		ReadyTimeout: DefaultReadyTimeout,
	}
}

// New returns a Manager backed by the local docker daemon.
func New() (*Manager, error) {
	rt, err := NewDockerRuntime()
	if err != nil {
		return nil, err
	}
	return NewManager(rt, nil, nil), nil
}

func (m *Manager) Close() error {
	return m.rt.Close()
}

// Provision pulls the image, starts a labelled container publishing the
// Redis port on HostIP:HostPort and waits for it to answer PING. A container
// that never becomes ready is removed again.
func (m *Manager) Provision(ctx context.Context, opts Options) (*Instance, error) {
	opts = opts.withDefaults()
	ref := opts.Image + ":" + opts.Tag
	log.Infof("Pulling %s", ref)
	if err := m.rt.Pull(ctx, ref); err != nil {
		return nil, err
	}

	spec := ContainerSpec{
		Name:     namePrefix + uuid.New().String(),
		Image:    ref,
		Label:    Label,
		HostIP:   opts.HostIP,
		HostPort: opts.HostPort,
	}
	id, err := m.rt.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		ID:   id,
		Name: spec.Name,
		Addr: net.JoinHostPort(opts.HostIP, strconv.Itoa(opts.HostPort)),
	}
	if err := m.rt.Start(ctx, id); err != nil {
		m.discard(inst)
		return nil, err
	}
	if err := m.waitReady(ctx, inst.Addr); err != nil {
		m.discard(inst)
		return nil, err
	}
	log.Debugf("Container %s (%s) ready on %s", inst.Name, inst.ID, inst.Addr)
	return inst, nil
}

func (m *Manager) discard(inst *Instance) {
	ctx := context.Background()
	if err := m.rt.Remove(ctx, inst.ID); err != nil {
		log.Warningf("Failed to remove container %s: %s", inst.Name, err)
	}
}

func (m *Manager) waitReady(ctx context.Context, addr string) error {
	err := retry.DoVoid(ctx, &retry.Options{
		InitialBackoff: readyPollInterval,
		MaxBackoff:     readyMaxBackoff,
		Multiplier:     2,
		MaxElapsed:     m.ReadyTimeout,
		Clock:          m.clock,
		Name:           "redis readiness check on " + addr,
	}, func(ctx context.Context) error {
		return m.ping(ctx, addr)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return status.WrapErrorf(ctx.Err(), "wait for %s", addr)
	}
	return status.DeadlineExceededErrorf("redis on %s not ready after %s: %s", addr, m.ReadyTimeout, err)
}

// List returns the names of every container carrying label.
func (m *Manager) List(ctx context.Context, label string) ([]string, error) {
	containers, err := m.rt.List(ctx, label)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(containers))
	for _, c := range containers {
		names = append(names, c.Name)
	}
	return names, nil
}

// Teardown kills and removes every container carrying label. It returns true
// iff at least one container was removed.
func (m *Manager) Teardown(ctx context.Context, label string) (bool, error) {
	containers, err := m.rt.List(ctx, label)
	if err != nil {
		return false, err
	}
	if len(containers) == 0 {
		return false, nil
	}
	eg, gctx := errgroup.WithContext(ctx)
	for _, c := range containers {
		c := c
		eg.Go(func() error {
			if c.State == "running" {
				if err := m.rt.Kill(gctx, c.ID); err != nil {
					log.Warningf("Failed to kill container %s: %s", c.Name, err)
				}
			}
			if err := m.rt.Remove(gctx, c.ID); err != nil {
				return status.WrapErrorf(err, "remove %s", c.Name)
			}
			log.Debugf("Removed container %s", c.Name)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return false, err
	}
	return true, nil
}
