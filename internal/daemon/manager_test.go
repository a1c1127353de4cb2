package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/etat/internal/config"
)

// journal records lifecycle calls across components in the order they happen.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeComponent struct {
	name    string
	deps    []string
	log     *journal
	initErr error
	runErr  error
	stopErr error

	mu      sync.Mutex
	healthy bool
}

func newFake(log *journal, name string, deps ...string) *fakeComponent {
	return &fakeComponent{name: name, deps: deps, log: log, healthy: true}
}

func (f *fakeComponent) Name() string           { return f.name }
func (f *fakeComponent) Dependencies() []string { return f.deps }

func (f *fakeComponent) Init(ctx context.Context) error {
	f.log.add("init:" + f.name)
	return f.initErr
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.log.add("start:" + f.name)
	return f.runErr
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	f.log.add("stop:" + f.name)
	return f.stopErr
}

func (f *fakeComponent) setHealthy(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = ok
}

func (f *fakeComponent) Health(ctx context.Context) (*ComponentHealth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return Unhealthy(f.name, "store unreachable"), nil
	}
	return Healthy(f.name), nil
}

func newTestDaemon(t *testing.T, opts ...Option) *Daemon {
	t.Helper()
	d, err := NewDaemon(&config.Config{
		Server: config.ServerConfig{Port: 8080},
		Store:  config.StoreConfig{DataDir: t.TempDir()},
		Daemon: config.DaemonConfig{HealthCheckInterval: "10ms", ShutdownTimeout: "2s"},
	}, opts...)
	require.NoError(t, err)
	return d
}

// runDaemon starts d in the background and waits until it leaves the
// starting state.
func runDaemon(t *testing.T, d *Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	require.Eventually(t, func() bool { return d.Health() != StatusStarting }, 2*time.Second, 5*time.Millisecond)
	return cancel, done
}

func TestNewDaemonRequiresConfig(t *testing.T) {
	_, err := NewDaemon(nil)
	assert.Error(t, err)

	dir := t.TempDir()
	d, err := NewDaemon(&config.Config{Store: config.StoreConfig{DataDir: dir}}, WithForceCleanLocks(true))
	require.NoError(t, err)
	assert.Equal(t, dir, d.DataDir())
	assert.True(t, d.forceCleanLocks)
	assert.Equal(t, StatusStarting, d.Health())
}

func TestValidateConfigCreatesDefaultDataDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	d, err := NewDaemon(&config.Config{Server: config.ServerConfig{Port: 8080}})
	require.NoError(t, err)
	require.NoError(t, d.validateConfig())

	_, err = os.Stat(filepath.Join(home, ".etat", "data"))
	assert.NoError(t, err)

	d.cfg.Server.Port = 0
	assert.Error(t, d.validateConfig())
}

func TestAddComponentRejectsDuplicates(t *testing.T) {
	log := &journal{}
	d := newTestDaemon(t)

	require.NoError(t, d.AddComponent(newFake(log, "StoreWorker")))
	assert.Error(t, d.AddComponent(newFake(log, "StoreWorker")))
	assert.NotNil(t, d.Component("StoreWorker"))
	assert.Nil(t, d.Component("Engine"))
}

func TestPlanOrdersByDependencies(t *testing.T) {
	log := &journal{}
	d := newTestDaemon(t)
	require.NoError(t, d.AddComponent(newFake(log, "HTTPServer", "Engine", "Janitor")))
	require.NoError(t, d.AddComponent(newFake(log, "Janitor", "Engine")))
	require.NoError(t, d.AddComponent(newFake(log, "Engine", "StoreWorker")))
	require.NoError(t, d.AddComponent(newFake(log, "StoreWorker")))

	order, err := d.plan()
	require.NoError(t, err)
	assert.Equal(t, []string{"StoreWorker", "Engine", "Janitor", "HTTPServer"}, order)
}

func TestPlanRejectsBrokenGraphs(t *testing.T) {
	log := &journal{}

	missing := newTestDaemon(t)
	require.NoError(t, missing.AddComponent(newFake(log, "Engine", "StoreWorker")))
	_, err := missing.plan()
	assert.ErrorContains(t, err, "not registered")

	cycle := newTestDaemon(t)
	require.NoError(t, cycle.AddComponent(newFake(log, "Engine", "Janitor")))
	require.NoError(t, cycle.AddComponent(newFake(log, "Janitor", "Engine")))
	_, err = cycle.plan()
	assert.ErrorContains(t, err, "circular dependency")
}

func TestStartRunsAndStopsInDependencyOrder(t *testing.T) {
	log := &journal{}
	d := newTestDaemon(t)
	require.NoError(t, d.AddComponent(newFake(log, "Engine", "StoreWorker")))
	require.NoError(t, d.AddComponent(newFake(log, "StoreWorker")))

	cancel, done := runDaemon(t, d)
	assert.Equal(t, StatusRunning, d.Health())
	assert.Error(t, d.AddComponent(newFake(log, "Late")), "the set is frozen once started")

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StatusStopped, d.Health())
	assert.Equal(t, []string{
		"init:StoreWorker", "init:Engine",
		"start:StoreWorker", "start:Engine",
		"stop:Engine", "stop:StoreWorker",
	}, log.list())
}

func TestFailedInitStopsOnlyInitializedComponents(t *testing.T) {
	log := &journal{}
	d := newTestDaemon(t)
	broken := newFake(log, "Engine", "StoreWorker")
	broken.initErr = errors.New("data dir locked")
	require.NoError(t, d.AddComponent(newFake(log, "StoreWorker")))
	require.NoError(t, d.AddComponent(broken))
	require.NoError(t, d.AddComponent(newFake(log, "HTTPServer", "Engine")))

	err := d.Start(context.Background())
	require.ErrorIs(t, err, broken.initErr)
	assert.Equal(t, StatusStopped, d.Health())
	assert.Equal(t, []string{"init:StoreWorker", "init:Engine", "stop:StoreWorker"}, log.list())
}

func TestFailedStartUnwindsEverythingInitialized(t *testing.T) {
	log := &journal{}
	d := newTestDaemon(t)
	http := newFake(log, "HTTPServer", "StoreWorker")
	http.runErr = errors.New("address in use")
	require.NoError(t, d.AddComponent(newFake(log, "StoreWorker")))
	require.NoError(t, d.AddComponent(http))

	err := d.Start(context.Background())
	require.ErrorIs(t, err, http.runErr)
	assert.Equal(t, []string{
		"init:StoreWorker", "init:HTTPServer",
		"start:StoreWorker", "start:HTTPServer",
		"stop:HTTPServer", "stop:StoreWorker",
	}, log.list())
}

func TestStopErrorsAreJoined(t *testing.T) {
	log := &journal{}
	d := newTestDaemon(t)
	stuck := newFake(log, "Engine")
	stuck.stopErr = errors.New("reconciler stuck")
	require.NoError(t, d.AddComponent(newFake(log, "StoreWorker")))
	require.NoError(t, d.AddComponent(stuck))

	cancel, done := runDaemon(t, d)
	cancel()
	err := <-done
	require.ErrorIs(t, err, stuck.stopErr)
	assert.Contains(t, log.list(), "stop:StoreWorker", "later stops still run")
}

func TestComponentHealthReportsErrors(t *testing.T) {
	log := &journal{}
	d := newTestDaemon(t)
	sick := newFake(log, "Janitor")
	sick.setHealthy(false)
	require.NoError(t, d.AddComponent(newFake(log, "StoreWorker")))
	require.NoError(t, d.AddComponent(sick))

	healths := d.ComponentHealth()
	require.Len(t, healths, 2)
	assert.True(t, healths["StoreWorker"].Healthy)
	assert.False(t, healths["Janitor"].Healthy)
	assert.EqualError(t, healths["Janitor"].Error, "store unreachable")
}

func TestMonitorMarksDaemonDegradedAndRecovers(t *testing.T) {
	log := &journal{}
	d := newTestDaemon(t)
	janitor := newFake(log, "Janitor")
	require.NoError(t, d.AddComponent(janitor))

	cancel, done := runDaemon(t, d)
	defer func() {
		cancel()
		<-done
	}()

	janitor.setHealthy(false)
	assert.Eventually(t, func() bool { return d.Health() == StatusDegraded }, 2*time.Second, 5*time.Millisecond)

	janitor.setHealthy(true)
	assert.Eventually(t, func() bool { return d.Health() == StatusRunning }, 2*time.Second, 5*time.Millisecond)
}
