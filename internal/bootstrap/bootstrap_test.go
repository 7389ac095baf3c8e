package bootstrap

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockUpgrader struct {
	exit      chan struct{}
	hasParent bool
}

func (m *mockUpgrader) Exit() <-chan struct{} { return m.exit }
func (m *mockUpgrader) HasParent() bool       { return m.hasParent }
func (m *mockUpgrader) Ready() error          { return nil }
func (m *mockUpgrader) Upgrade() error {
	close(m.exit)
	return nil
}

func TestStartServesOnRegisteredListener(t *testing.T) {
	u := &mockUpgrader{exit: make(chan struct{})}
	b, err := _new(u, net.Listen, false)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })
	srv := &http.Server{Handler: mux}

	var listener net.Listener
	b.RegisterStarter(func(listen ListenFunc, errs chan<- error) error {
		l, err := listen("tcp", "127.0.0.1:0")
		if err != nil {
			return err
		}
		listener = l
		go func() { errs <- srv.Serve(l) }()
		return nil
	})

	require.NoError(t, b.Start())
	require.NotNil(t, listener)

	resp, err := http.Get("http://" + listener.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	require.NoError(t, listener.Close())
}

func TestWaitReturnsOnUpgraderExit(t *testing.T) {
	u := &mockUpgrader{exit: make(chan struct{})}
	b, err := _new(u, net.Listen, false)
	require.NoError(t, err)

	stopped := make(chan struct{})
	b.StopAction = func() { close(stopped) }

	waitErr := make(chan error, 1)
	go func() { waitErr <- b.Wait(time.Second) }()

	close(u.exit)

	select {
	case err := <-waitErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopAction was not invoked")
	}
}
