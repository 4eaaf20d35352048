package wsrti

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/code-lab-org/sipg-sub003/sim/rti"
)

// Client is a remote federate connection. It implements rti.RTI.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks are
// delivered in order on a single goroutine.
type Client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	queue   *rti.CallbackQueue
	log     *logrus.Entry

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan envelope
	amb     rti.Ambassador
	closing bool
	closed  bool
	done    chan struct{}
}

var _ rti.RTI = (*Client)(nil)

// Dial connects to a Server endpoint such as ws://host:port/rti.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", rti.ErrDisconnected, url, err)
	}
	c := &Client{
		ws:      ws,
		queue:   rti.NewCallbackQueue(),
		log:     logrus.WithField("rti", url),
		pending: make(map[uint64]chan envelope),
		done:    make(chan struct{}),
	}
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		var env envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			c.shutdown(err.Error())
			return
		}
		if env.Callback != "" {
			c.dispatch(env)
			continue
		}
		c.mu.Lock()
		ch := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- env
		}
	}
}

// shutdown fails every pending call. ConnectionLost fires unless Close
// initiated it.
func (c *Client) shutdown(reason string) {
	c.mu.Lock()
	closing := c.closing
	c.closed = true
	for id, ch := range c.pending {
		ch <- envelope{ID: id, Code: rti.ErrorCode(rti.ErrDisconnected), Error: reason}
		delete(c.pending, id)
	}
	amb := c.amb
	c.mu.Unlock()
	if !closing {
		c.log.Warnf("connection lost: %s", reason)
		if amb != nil {
			c.queue.Post(func() { amb.ConnectionLost(reason) })
		}
	}
	c.queue.Close()
	_ = c.ws.Close()
}

// Close shuts the socket. The server resigns the federate if it is still
// joined.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed || c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	c.mu.Unlock()
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
	<-c.done
	return nil
}

func (c *Client) call(ctx context.Context, op string, a args) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	if c.closed || c.closing {
		c.mu.Unlock()
		return "", rti.ErrDisconnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan envelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.ws.WriteJSON(envelope{ID: id, Op: op, Args: &a})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		_ = c.ws.Close()
		return "", fmt.Errorf("%w: %s: %v", rti.ErrDisconnected, op, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return "", ctx.Err()
	case resp := <-ch:
		if resp.Code != "" || resp.Error != "" {
			return "", rti.ErrorFromCode(resp.Code, resp.Error)
		}
		return resp.Result, nil
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, op string, a args) error {
	_, err := c.call(ctx, op, a)
	return err
}

func (c *Client) CreateFederation(ctx context.Context, federation string) error {
	return c.do(ctx, opCreateFederation, args{Federation: federation})
}

func (c *Client) DestroyFederation(ctx context.Context, federation string) error {
	return c.do(ctx, opDestroyFederation, args{Federation: federation})
}

func (c *Client) Join(ctx context.Context, federation, federate, typ string, amb rti.Ambassador) (string, error) {
	if amb == nil {
		panic("Join: ambassador is nil")
	}
	// callbacks for open sync points may arrive before the response
	c.mu.Lock()
	prev := c.amb
	c.amb = amb
	c.mu.Unlock()
	handle, err := c.call(ctx, opJoin, args{Federation: federation, Federate: federate, Type: typ})
	if err != nil {
		c.mu.Lock()
		c.amb = prev
		c.mu.Unlock()
	}
	return handle, err
}

func (c *Client) Resign(ctx context.Context) error { return c.do(ctx, opResign, args{}) }

func (c *Client) EnableTimeRegulation(ctx context.Context, lookahead int64) error {
	return c.do(ctx, opEnableTimeRegulation, args{Lookahead: lookahead})
}

func (c *Client) DisableTimeRegulation(ctx context.Context) error {
	return c.do(ctx, opDisableTimeRegulation, args{})
}

func (c *Client) EnableTimeConstrained(ctx context.Context) error {
	return c.do(ctx, opEnableTimeConstrained, args{})
}

func (c *Client) DisableTimeConstrained(ctx context.Context) error {
	return c.do(ctx, opDisableTimeConstrained, args{})
}

func (c *Client) TimeAdvanceRequest(ctx context.Context, t int64) error {
	return c.do(ctx, opTimeAdvanceRequest, args{Time: t})
}

func (c *Client) RegisterSyncPoint(ctx context.Context, label string) error {
	return c.do(ctx, opRegisterSyncPoint, args{Label: label})
}

func (c *Client) SyncPointAchieved(ctx context.Context, label string) error {
	return c.do(ctx, opSyncPointAchieved, args{Label: label})
}

func (c *Client) RequestFederationSave(ctx context.Context, label string) error {
	return c.do(ctx, opRequestFederationSave, args{Label: label})
}

func (c *Client) FederateSaveBegun(ctx context.Context) error {
	return c.do(ctx, opFederateSaveBegun, args{})
}

func (c *Client) FederateSaveComplete(ctx context.Context) error {
	return c.do(ctx, opFederateSaveComplete, args{})
}

func (c *Client) FederateSaveNotComplete(ctx context.Context) error {
	return c.do(ctx, opFederateSaveNotComplete, args{})
}

func (c *Client) RequestFederationRestore(ctx context.Context, label string) error {
	return c.do(ctx, opRequestFederationRestore, args{Label: label})
}

func (c *Client) FederateRestoreComplete(ctx context.Context) error {
	return c.do(ctx, opFederateRestoreComplete, args{})
}

func (c *Client) PublishObjectClass(ctx context.Context, class string, attributes []string) error {
	return c.do(ctx, opPublishObjectClass, args{Class: class, Attributes: attributes})
}

func (c *Client) SubscribeObjectClass(ctx context.Context, class string, attributes []string) error {
	return c.do(ctx, opSubscribeObjectClass, args{Class: class, Attributes: attributes})
}

func (c *Client) RegisterObjectInstance(ctx context.Context, class, name string) (rti.ObjectHandle, error) {
	obj, err := c.call(ctx, opRegisterObjectInstance, args{Class: class, Name: name})
	return rti.ObjectHandle(obj), err
}

func (c *Client) UpdateAttributeValues(ctx context.Context, obj rti.ObjectHandle, values rti.AttributeValues, t int64) error {
	return c.do(ctx, opUpdateAttributeValues, args{Object: obj, Values: values, Time: t})
}

func (c *Client) RequestAttributeValueUpdate(ctx context.Context, class string, attributes []string) error {
	return c.do(ctx, opRequestAttributeValueUpdate, args{Class: class, Attributes: attributes})
}

func (c *Client) dispatch(env envelope) {
	c.mu.Lock()
	amb := c.amb
	c.mu.Unlock()
	if amb == nil {
		c.log.Warnf("callback %s before join, dropped", env.Callback)
		return
	}
	a := env.Args
	if a == nil {
		a = &args{}
	}
	var fn func()
	switch env.Callback {
	case cbSyncPointRegistrationSucceeded:
		fn = func() { amb.SyncPointRegistrationSucceeded(a.Label) }
	case cbSyncPointRegistrationFailed:
		fn = func() { amb.SyncPointRegistrationFailed(a.Label, a.Reason) }
	case cbAnnounceSyncPoint:
		fn = func() { amb.AnnounceSyncPoint(a.Label) }
	case cbFederationSynchronized:
		fn = func() { amb.FederationSynchronized(a.Label) }
	case cbInitiateFederateSave:
		fn = func() { amb.InitiateFederateSave(a.Label) }
	case cbFederationSaved:
		fn = amb.FederationSaved
	case cbFederationNotSaved:
		fn = func() { amb.FederationNotSaved(a.Reason) }
	case cbRequestFederationRestoreSucceeded:
		fn = func() { amb.RequestFederationRestoreSucceeded(a.Label) }
	case cbRequestFederationRestoreFailed:
		fn = func() { amb.RequestFederationRestoreFailed(a.Label) }
	case cbFederationRestoreBegun:
		fn = amb.FederationRestoreBegun
	case cbInitiateFederateRestore:
		fn = func() { amb.InitiateFederateRestore(a.Label, a.Federate) }
	case cbFederationRestored:
		fn = amb.FederationRestored
	case cbFederationNotRestored:
		fn = func() { amb.FederationNotRestored(a.Reason) }
	case cbTimeRegulationEnabled:
		fn = func() { amb.TimeRegulationEnabled(a.Time) }
	case cbTimeConstrainedEnabled:
		fn = func() { amb.TimeConstrainedEnabled(a.Time) }
	case cbTimeAdvanceGrant:
		fn = func() { amb.TimeAdvanceGrant(a.Time) }
	case cbDiscoverObjectInstance:
		fn = func() { amb.DiscoverObjectInstance(a.Object, a.Class, a.Name) }
	case cbRemoveObjectInstance:
		fn = func() { amb.RemoveObjectInstance(a.Object) }
	case cbReflectAttributeValues:
		values := a.Values
		if values == nil {
			values = rti.AttributeValues{}
		}
		fn = func() { amb.ReflectAttributeValues(a.Object, values, a.Time) }
	case cbProvideAttributeValueUpdate:
		fn = func() { amb.ProvideAttributeValueUpdate(a.Object, a.Attributes) }
	default:
		c.log.Warnf("unknown callback %q", env.Callback)
		return
	}
	c.queue.Post(fn)
}
