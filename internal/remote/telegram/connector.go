// Package telegram implements remote.Connector with an MTProto client dialing
// through a SOCKS5 proxy.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"sendcode_nexus/internal/remote"
	"sendcode_nexus/proxypool/model"
)

const (
	dialTimeout  = 10 * time.Second
	closeTimeout = 5 * time.Second
)

// Connector opens one MTProto client per trial. Session state is kept in a
// remote.SessionStore keyed by endpoint.
type Connector struct {
	appID    int
	appHash  string
	sessions *remote.SessionStore
	log      *zap.Logger
}

var _ remote.Connector = (*Connector)(nil)

func NewConnector(appID int, appHash string, sessions *remote.SessionStore, log *zap.Logger) *Connector {
	if sessions == nil {
		sessions = remote.NewSessionStore()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{
		appID:    appID,
		appHash:  appHash,
		sessions: sessions,
		log:      log,
	}
}

// Connect starts a client through ep and returns once it is connected. The
// client keeps running after ctx ends, until the session is closed.
func (c *Connector) Connect(ctx context.Context, ep model.Endpoint) (remote.Session, error) {
	dialer, err := socksDialer(ep)
	if err != nil {
		return nil, err
	}

	client := telegram.NewClient(c.appID, c.appHash, telegram.Options{
		Resolver:       dcs.Plain(dcs.PlainOptions{Dial: dialer.DialContext}),
		SessionStorage: &endpointStorage{store: c.sessions, key: ep.Key()},
		Logger:         c.log.With(zap.String("proxy", ep.Redacted())),
		NoUpdates:      true,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	s := &clientSession{
		client: client,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ready := make(chan struct{})

	go func() {
		defer close(s.done)
		s.runErr = client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
		return s, nil
	case <-s.done:
		cancel()
		err := s.runErr
		if err == nil {
			err = errors.New("client stopped before connecting")
		}
		return nil, fmt.Errorf("connect via %s: %w", ep.Redacted(), err)
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// socksDialer builds a SOCKS5 dialer for ep, with username/password auth when
// the endpoint has credentials.
func socksDialer(ep model.Endpoint) (proxy.ContextDialer, error) {
	var socksAuth *proxy.Auth
	if ep.HasAuth() {
		socksAuth = &proxy.Auth{User: ep.Credentials.User, Password: ep.Credentials.Password}
	}

	d, err := proxy.SOCKS5("tcp", ep.Address(), socksAuth, &net.Dialer{Timeout: dialTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("SOCKS5 dialer does not support contexts")
	}
	return cd, nil
}

type clientSession struct {
	client *telegram.Client
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
	once   sync.Once
}

func (s *clientSession) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := s.client.Auth().Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Authorized, nil
}

func (s *clientSession) SendCode(ctx context.Context, phone string) error {
	_, err := s.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	return classifySendError(err)
}

func (s *clientSession) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		select {
		case <-s.done:
			if s.runErr != nil && !errors.Is(s.runErr, context.Canceled) {
				err = s.runErr
			}
		case <-time.After(closeTimeout):
			err = errors.New("client did not stop in time")
		}
	})
	return err
}

// classifySendError maps the remote flood-wait signal onto remote.FloodWaitError.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &remote.FloodWaitError{Seconds: int(d / time.Second)}
	}
	return err
}

// endpointStorage adapts one slot of remote.SessionStore to telegram.SessionStorage.
type endpointStorage struct {
	store *remote.SessionStore
	key   model.EndpointKey
}

var _ telegram.SessionStorage = (*endpointStorage)(nil)

func (s *endpointStorage) LoadSession(context.Context) ([]byte, error) {
	data, ok := s.store.Get(s.key)
	if !ok {
		return nil, session.ErrNotFound
	}
	return data, nil
}

func (s *endpointStorage) StoreSession(_ context.Context, data []byte) error {
	s.store.Put(s.key, data)
	return nil
}
