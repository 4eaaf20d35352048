package wsrti

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/code-lab-org/sipg-sub003/sim/rti"
)

// Path is where Serve mounts the websocket endpoint.
const Path = "/rti"

// Server accepts federate connections for one hub.
type Server struct {
	hub      *rti.Hub
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func NewServer(hub *rti.Hub) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:      logrus.WithField("component", "wsrti"),
		sessions: make(map[*session]struct{}),
	}
}

// Hub returns the hosted hub.
func (s *Server) Hub() *rti.Hub { return s.hub }

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.log.Infof("RTI listening on ws://%s%s", ln.Addr(), Path)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close drops every open connection. Their federates resign.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.ws.Close()
	}
}

type session struct {
	ws   *websocket.Conn
	conn *rti.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
	log  *logrus.Entry
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	sess := &session{
		ws:   ws,
		conn: s.hub.Connect(),
		out:  make(chan []byte, 256),
		done: make(chan struct{}),
		log:  s.log.WithField("remote", r.RemoteAddr),
	}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	stop := func() {
		sess.once.Do(func() { close(sess.done) })
		cancel()
	}
	defer stop()

	// Writer goroutine.
	go func() {
		ping := time.NewTicker(pingInterval)
		defer ping.Stop()
		for {
			var msgType int
			var b []byte
			select {
			case <-sess.done:
				return
			case <-ping.C:
				msgType = websocket.PingMessage
			case b = <-sess.out:
				msgType = websocket.TextMessage
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(msgType, b); err != nil {
				stop()
				_ = ws.Close()
				return
			}
		}
	}()

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		var req envelope
		if err := ws.ReadJSON(&req); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				sess.log.Warnf("dropping malformed request: %v", err)
				continue
			}
			break
		}
		if req.Args == nil {
			req.Args = &args{}
		}
		result, err := sess.handle(ctx, req.Op, req.Args)
		resp := envelope{ID: req.ID, Result: result}
		if err != nil {
			resp.Error, resp.Code = err.Error(), rti.ErrorCode(err)
		}
		sess.send(resp)
	}
	stop()
	// resigns the federate if the client went away while joined
	_ = sess.conn.Close()
}

func (sess *session) send(env envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		sess.log.Errorf("encode %+v: %v", env, err)
		return
	}
	select {
	case sess.out <- b:
	case <-sess.done:
	}
}

func (sess *session) handle(ctx context.Context, op string, a *args) (string, error) {
	c := sess.conn
	switch op {
	case opCreateFederation:
		return "", c.CreateFederation(ctx, a.Federation)
	case opDestroyFederation:
		return "", c.DestroyFederation(ctx, a.Federation)
	case opJoin:
		return c.Join(ctx, a.Federation, a.Federate, a.Type, &forwarder{sess: sess})
	case opResign:
		return "", c.Resign(ctx)
	case opEnableTimeRegulation:
		return "", c.EnableTimeRegulation(ctx, a.Lookahead)
	case opDisableTimeRegulation:
		return "", c.DisableTimeRegulation(ctx)
	case opEnableTimeConstrained:
		return "", c.EnableTimeConstrained(ctx)
	case opDisableTimeConstrained:
		return "", c.DisableTimeConstrained(ctx)
	case opTimeAdvanceRequest:
		return "", c.TimeAdvanceRequest(ctx, a.Time)
	case opRegisterSyncPoint:
		return "", c.RegisterSyncPoint(ctx, a.Label)
	case opSyncPointAchieved:
		return "", c.SyncPointAchieved(ctx, a.Label)
	case opRequestFederationSave:
		return "", c.RequestFederationSave(ctx, a.Label)
	case opFederateSaveBegun:
		return "", c.FederateSaveBegun(ctx)
	case opFederateSaveComplete:
		return "", c.FederateSaveComplete(ctx)
	case opFederateSaveNotComplete:
		return "", c.FederateSaveNotComplete(ctx)
	case opRequestFederationRestore:
		return "", c.RequestFederationRestore(ctx, a.Label)
	case opFederateRestoreComplete:
		return "", c.FederateRestoreComplete(ctx)
	case opPublishObjectClass:
		return "", c.PublishObjectClass(ctx, a.Class, a.Attributes)
	case opSubscribeObjectClass:
		return "", c.SubscribeObjectClass(ctx, a.Class, a.Attributes)
	case opRegisterObjectInstance:
		obj, err := c.RegisterObjectInstance(ctx, a.Class, a.Name)
		return string(obj), err
	case opUpdateAttributeValues:
		return "", c.UpdateAttributeValues(ctx, a.Object, a.Values, a.Time)
	case opRequestAttributeValueUpdate:
		return "", c.RequestAttributeValueUpdate(ctx, a.Class, a.Attributes)
	default:
		return "", fmt.Errorf("unknown operation %q", op)
	}
}

// forwarder relays hub callbacks to the client. It runs on the connection's
// callback goroutine, so callbacks keep their order on the wire.
type forwarder struct {
	sess *session
}

func (f *forwarder) cb(name string, a args) {
	f.sess.send(envelope{Callback: name, Args: &a})
}

// ConnectionLost has nothing to forward: the client sees its socket close.
func (f *forwarder) ConnectionLost(string) {}

func (f *forwarder) SyncPointRegistrationSucceeded(label string) {
	f.cb(cbSyncPointRegistrationSucceeded, args{Label: label})
}
func (f *forwarder) SyncPointRegistrationFailed(label, reason string) {
	f.cb(cbSyncPointRegistrationFailed, args{Label: label, Reason: reason})
}
func (f *forwarder) AnnounceSyncPoint(label string) {
	f.cb(cbAnnounceSyncPoint, args{Label: label})
}
func (f *forwarder) FederationSynchronized(label string) {
	f.cb(cbFederationSynchronized, args{Label: label})
}
func (f *forwarder) InitiateFederateSave(label string) {
	f.cb(cbInitiateFederateSave, args{Label: label})
}
func (f *forwarder) FederationSaved() { f.cb(cbFederationSaved, args{}) }
func (f *forwarder) FederationNotSaved(reason string) {
	f.cb(cbFederationNotSaved, args{Reason: reason})
}
func (f *forwarder) RequestFederationRestoreSucceeded(label string) {
	f.cb(cbRequestFederationRestoreSucceeded, args{Label: label})
}
func (f *forwarder) RequestFederationRestoreFailed(label string) {
	f.cb(cbRequestFederationRestoreFailed, args{Label: label})
}
func (f *forwarder) FederationRestoreBegun() { f.cb(cbFederationRestoreBegun, args{}) }
func (f *forwarder) InitiateFederateRestore(label, federate string) {
	f.cb(cbInitiateFederateRestore, args{Label: label, Federate: federate})
}
func (f *forwarder) FederationRestored() { f.cb(cbFederationRestored, args{}) }
func (f *forwarder) FederationNotRestored(reason string) {
	f.cb(cbFederationNotRestored, args{Reason: reason})
}
func (f *forwarder) TimeRegulationEnabled(t int64) {
	f.cb(cbTimeRegulationEnabled, args{Time: t})
}
func (f *forwarder) TimeConstrainedEnabled(t int64) {
	f.cb(cbTimeConstrainedEnabled, args{Time: t})
}
func (f *forwarder) TimeAdvanceGrant(t int64) { f.cb(cbTimeAdvanceGrant, args{Time: t}) }
func (f *forwarder) DiscoverObjectInstance(obj rti.ObjectHandle, class, name string) {
	f.cb(cbDiscoverObjectInstance, args{Object: obj, Class: class, Name: name})
}
func (f *forwarder) RemoveObjectInstance(obj rti.ObjectHandle) {
	f.cb(cbRemoveObjectInstance, args{Object: obj})
}
func (f *forwarder) ReflectAttributeValues(obj rti.ObjectHandle, values rti.AttributeValues, t int64) {
	f.cb(cbReflectAttributeValues, args{Object: obj, Values: values, Time: t})
}
func (f *forwarder) ProvideAttributeValueUpdate(obj rti.ObjectHandle, attributes []string) {
	f.cb(cbProvideAttributeValueUpdate, args{Object: obj, Attributes: attributes})
}
