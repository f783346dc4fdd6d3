package push

import (
	"context"
	"encoding/json"
	"time"

	"github.com/capsulepay/walletd/internal/config"
	"github.com/capsulepay/walletd/internal/types"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
	readDeadline       = 90 * time.Second
)

// envelope is the websocket wire frame.
type envelope struct {
	Type    string          `json:"type"` // "txcer_update", "tx_status"
	Payload json.RawMessage `json:"payload"`
}

type txStatusPush struct {
	AccountId string              `json:"account_id"`
	TxHash    string              `json:"tx_hash"`
	Status    types.ConfirmStatus `json:"status"`
}

// Listener keeps a websocket subscription to the backend push stream,
// reconnecting with capped backoff until its context is cancelled.
type Listener struct {
	dispatcher *Dispatcher
	url        string
}

func NewListener(dispatcher *Dispatcher) *Listener {
	return &Listener{
		dispatcher: dispatcher,
		url:        config.AppConfig.PushWSURL,
	}
}

func (l *Listener) Start(ctx context.Context) {
	log.Infof("Push listener connecting to %s", l.url)

	delay := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			log.Info("Push listener stopped.")
			return
		}

		if err := l.runConn(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("Push listener connection error: %v, retrying in %v", err, delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}
		delay = reconnectBaseDelay
	}
}

// runConn dials once and pumps messages until the connection breaks or
// the context is cancelled.
func (l *Listener) runConn(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Infof("Push listener connected to %s", l.url)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.handleMessage(data)
	}
}

func (l *Listener) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warnf("Push listener bad frame: %v", err)
		return
	}

	switch env.Type {
	case "txcer_update":
		var update types.TxCerUpdate
		if err := json.Unmarshal(env.Payload, &update); err != nil {
			log.Warnf("Push listener bad certificate update: %v", err)
			return
		}
		if update.ReceivedTime == 0 {
			update.ReceivedTime = time.Now().UnixMilli()
		}
		l.dispatcher.HandleTxCerUpdate(update)

	case "tx_status":
		var push txStatusPush
		if err := json.Unmarshal(env.Payload, &push); err != nil {
			log.Warnf("Push listener bad tx status push: %v", err)
			return
		}
		l.dispatcher.HandleTxStatus(push.AccountId, push.TxHash, &push.Status)

	default:
		log.Debugf("Push listener ignoring frame type %q", env.Type)
	}
}
