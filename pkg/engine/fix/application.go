// Package fixgw exposes the matching engine over a FIX 4.4 acceptor.
// NewOrderSingle carries the trading intent: Symbol is "BASE/QUOTE",
// Account is the user's wallet address and PegOffsetValue carries the
// variance tolerance in basis points.
package fixgw

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/joripage/darkpool-engine/pkg/engine"
	"github.com/joripage/go_util/pkg/shardqueue"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"
)

const (
	numShards = 16
	queueSize = 1_000_000
)

type inboundMsg struct {
	msg       *quickfix.Message
	sessionID quickfix.SessionID
}

// Application implements the quickfix.Application interface. Inbound
// messages are sharded by ClOrdID so one client's messages stay ordered
// while different clients proceed in parallel.
type Application struct {
	*quickfix.MessageRouter
	gateway    *Gateway
	shardQueue *shardqueue.Shardqueue
	quickEvent chan bool
}

func newApplication(gw *Gateway) *Application {
	app := &Application{
		MessageRouter: quickfix.NewMessageRouter(),
		gateway:       gw,
		quickEvent:    make(chan bool, 1),
	}

	app.AddRoute(newordersingle.Route(gw.onNewOrderSingle))
	app.AddRoute(ordercancelrequest.Route(gw.onOrderCancelRequest))

	app.shardQueue = shardqueue.NewShardQueue(numShards, queueSize)
	app.shardQueue.Start(func(msg interface{}) error {
		if v, ok := msg.(*inboundMsg); ok {
			if err := app.Route(v.msg, v.sessionID); err != nil {
				zap.S().Warnw("route fix message fail", "err", err)
			}
		}
		return nil
	})

	return app
}

func startApp(configFilepath string, gw *Gateway) (*Application, error) {
	cfg, err := os.Open(configFilepath)
	if err != nil {
		return nil, fmt.Errorf("error opening %v, %v", configFilepath, err)
	}
	defer cfg.Close() // nolint

	stringData, readErr := io.ReadAll(cfg)
	if readErr != nil {
		return nil, fmt.Errorf("error reading cfg: %s,", readErr)
	}

	appSettings, err := quickfix.ParseSettings(bytes.NewReader(stringData))
	if err != nil {
		return nil, fmt.Errorf("error reading cfg: %s,", err)
	}

	app := newApplication(gw)
	logFactory, _ := file.NewLogFactory(appSettings)
	acceptor, err := quickfix.NewAcceptor(app, quickfix.NewMemoryStoreFactory(), appSettings, logFactory)
	if err != nil {
		return nil, fmt.Errorf("unable to create acceptor: %s", err)
	}

	err = acceptor.Start()
	if err != nil {
		return nil, fmt.Errorf("unable to start FIX acceptor: %s", err)
	}

	go func() {
		<-app.quickEvent
		acceptor.Stop()
	}()

	return app, nil
}

func stopApp(a *Application) {
	select {
	case a.quickEvent <- true:
	default:
	}
}

// OnCreate implemented as part of Application interface
func (a Application) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon implemented as part of Application interface
func (a Application) OnLogon(sessionID quickfix.SessionID) {}

// OnLogout implemented as part of Application interface
func (a Application) OnLogout(sessionID quickfix.SessionID) {}

// ToAdmin implemented as part of Application interface
func (a Application) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

// ToApp implemented as part of Application interface
func (a Application) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromAdmin implemented as part of Application interface
func (a Application) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// FromApp implemented as part of Application interface, shards incoming
// application messages onto the dispatch queue.
func (a *Application) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) (reject quickfix.MessageRejectError) {
	a.shardQueue.Shard(getRoutingKey(msg, sessionID), &inboundMsg{msg, sessionID})
	return nil
}

func getRoutingKey(msg *quickfix.Message, sessionID quickfix.SessionID) string {
	if clOrdID, err := msg.Body.GetString(tag.ClOrdID); err == nil && clOrdID != "" {
		return clOrdID
	}

	if msgType, err := msg.Header.GetString(tag.MsgType); err == nil {
		return "MSGTYPE:" + msgType
	}

	return sessionID.String()
}

// Server owns the acceptor lifecycle and the engine-facing gateway.
type Server struct {
	app            *Application
	gateway        *Gateway
	configFilepath string
}

func NewServer(svc engine.Service) *Server {
	return &Server{gateway: newGateway(svc)}
}

func (s *Server) Init(configFilepath string) error {
	s.configFilepath = configFilepath
	return nil
}

func (s *Server) Start() error {
	app, err := startApp(s.configFilepath, s.gateway)
	if err != nil {
		zap.S().Errorw("start fix acceptor fail", "err", err)
		return err
	}
	s.app = app
	s.gateway.startMatchStream()
	return nil
}

func (s *Server) Stop() error {
	s.gateway.stopMatchStream()
	if s.app != nil {
		stopApp(s.app)
	}
	return nil
}
