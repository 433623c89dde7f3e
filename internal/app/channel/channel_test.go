package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/janus"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

type fakeConn struct {
	in  chan []byte
	out chan map[string]any

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	controls int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan map[string]any, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.in:
		return websocket.TextMessage, b, nil
	case <-f.closed:
		return 0, nil, f.closeErr
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("write on closed conn")
	default:
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.out <- m
	return nil
}

// WriteControl plays the server echoing our close frame.
func (f *fakeConn) WriteControl(int, []byte, time.Time) error {
	f.mu.Lock()
	f.controls++
	f.mu.Unlock()
	f.drop(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.drop(errors.New("use of closed network connection"))
	return nil
}

func (f *fakeConn) drop(err error) {
	f.closeOnce.Do(func() {
		f.closeErr = err
		close(f.closed)
	})
}

func (f *fakeConn) push(raw string) {
	f.in <- []byte(raw)
}

func (f *fakeConn) pushf(format string, args ...any) {
	f.push(fmt.Sprintf(format, args...))
}

// expect returns the next request, which must be of kind. Keep-alives are
// skipped unless asked for.
func (f *fakeConn) expect(t *testing.T, kind string) map[string]any {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case m := <-f.out:
			if m["janus"] == "keepalive" && kind != "keepalive" {
				continue
			}
			require.Equal(t, kind, m["janus"], "unexpected request %v", m)
			return m
		case <-deadline:
			t.Fatalf("no %s request sent", kind)
			return nil
		}
	}
}

func (f *fakeConn) expectNothing(t *testing.T) {
	t.Helper()
	for {
		select {
		case m := <-f.out:
			if m["janus"] != "keepalive" {
				t.Fatalf("unexpected request %v", m)
			}
		default:
			return
		}
	}
}

type fakeDialer struct {
	conn core.Conn
	err  error
}

func (d fakeDialer) Dial(context.Context, string) (core.Conn, error) {
	return d.conn, d.err
}

type recorder struct {
	mu      sync.Mutex
	ready   []domain.HandleID
	offers  []domain.HandleID
	answers []domain.HandleID
	left    []domain.HandleID
	errs    []*core.ProtocolError
}

func (r *recorder) PublisherReady(h domain.HandleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, h)
}

func (r *recorder) RemoteOfferAvailable(h domain.HandleID, _ webrtc.SessionDescription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, h)
}

func (r *recorder) RemoteAnswerRequest(h domain.HandleID, _ webrtc.SessionDescription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, h)
}

func (r *recorder) ParticipantLeft(h domain.HandleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, h)
}

func (r *recorder) ProtocolError(err *core.ProtocolError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) snapshot(list *[]domain.HandleID) []domain.HandleID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.HandleID(nil), *list...)
}

func (r *recorder) kinds() []core.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Kind, 0, len(r.errs))
	for _, e := range r.errs {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) count(kind core.Kind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// barrier pushes a frame that can only fail to decode and waits for the
// report, so everything pushed before it has been dispatched.
func barrier(t *testing.T, conn *fakeConn, rec *recorder) {
	t.Helper()
	before := rec.count(core.KindMalformedMessage)
	conn.push("{not json")
	require.Eventually(t, func() bool {
		return rec.count(core.KindMalformedMessage) > before
	}, wait, 5*time.Millisecond)
}

func body(t *testing.T, m map[string]any) map[string]any {
	t.Helper()
	b, ok := m["body"].(map[string]any)
	require.True(t, ok, "request without body: %v", m)
	return b
}

func testConfig() Config {
	return Config{Room: 1234, Display: "me", KeepAliveInterval: time.Hour}
}

// bootstrap runs create, publisher attach and join against the fake server:
// session 42, publisher handle 7.
func bootstrap(t *testing.T, cfg Config) (*Channel, *fakeConn, *recorder) {
	t.Helper()
	rec := &recorder{}
	return bootstrapChannel(t, New(cfg, rec), rec)
}

func bootstrapChannel(t *testing.T, ch *Channel, rec *recorder) (*Channel, *fakeConn, *recorder) {
	t.Helper()
	conn := newFakeConn()
	t.Cleanup(func() { _ = ch.Close() })

	require.NoError(t, ch.Connect(context.Background(), fakeDialer{conn: conn}, "ws://janus.test"))

	create := conn.expect(t, "create")
	require.NotEmpty(t, create["transaction"])
	conn.pushf(`{"janus":"success","transaction":%q,"data":{"id":"42"}}`, create["transaction"])

	attach := conn.expect(t, "attach")
	assert.EqualValues(t, 42, attach["session_id"])
	assert.Equal(t, janus.PluginVideoRoom, attach["plugin"])
	assert.NotEmpty(t, attach["opaque_id"])
	assert.Equal(t, domain.SessionID(42), ch.SessionID())
	conn.pushf(`{"janus":"success","transaction":%q,"data":{"id":7}}`, attach["transaction"])

	join := conn.expect(t, "message")
	assert.EqualValues(t, 7, join["handle_id"])
	b := body(t, join)
	assert.Equal(t, "join", b["request"])
	assert.Equal(t, "publisher", b["ptype"])
	assert.EqualValues(t, 1234, b["room"])
	assert.Equal(t, "me", b["display"])
	assert.Equal(t, StateJoining, ch.State())
	assert.Equal(t, domain.HandleID(7), ch.PublisherHandle())
	return ch, conn, rec
}

// subscribeAlice brings remote feed 99 in on subscriber handle 8.
func subscribeAlice(t *testing.T, ch *Channel, conn *fakeConn) {
	t.Helper()
	conn.push(`{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event","publishers":[{"id":"99","display":"Alice"}]}}}`)
	attach := conn.expect(t, "attach")
	conn.pushf(`{"janus":"success","transaction":%q,"data":{"id":8}}`, attach["transaction"])

	join := conn.expect(t, "message")
	assert.EqualValues(t, 8, join["handle_id"])
	b := body(t, join)
	assert.Equal(t, "subscriber", b["ptype"])
	assert.EqualValues(t, 99, b["feed"])
	assert.EqualValues(t, 1234, b["room"])
}

func TestSessionBootstrap(t *testing.T) {
	ch, _, rec := bootstrap(t, testConfig())
	assert.Empty(t, rec.kinds())
	assert.Zero(t, ch.PendingTransactions())
	assert.Equal(t, []core.HandleDTO{{ID: 7, Kind: "publisher", Display: "me"}}, ch.Handles())
}

func TestPublisherJoinedFiresOnce(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())

	joined := `{"janus":"event","sender":"7","plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"joined","id":5555,"publishers":[]}}}`
	conn.push(joined)
	conn.push(joined)
	barrier(t, conn, rec)

	assert.Equal(t, []domain.HandleID{7}, rec.snapshot(&rec.ready))
	assert.Equal(t, StateActive, ch.State())
}

func TestPublishAndRemoteAnswer(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 local"}
	require.NoError(t, ch.Publish(7, offer))
	msg := conn.expect(t, "message")
	b := body(t, msg)
	assert.Equal(t, "configure", b["request"])
	assert.Equal(t, true, b["audio"])
	assert.Equal(t, true, b["video"])
	assert.Equal(t, map[string]any{"type": "offer", "sdp": "v=0 local"}, msg["jsep"])

	conn.push(`{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event","configured":"ok"}},"jsep":{"type":"answer","sdp":"v=0 remote"}}`)
	require.Eventually(t, func() bool { return len(rec.snapshot(&rec.answers)) == 1 }, wait, 5*time.Millisecond)
	assert.Equal(t, []domain.HandleID{7}, rec.snapshot(&rec.answers))
	assert.Empty(t, rec.snapshot(&rec.offers))
}

func TestNewParticipantIsSubscribedOnce(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())

	event := `{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event","publishers":[{"id":"99","display":"Alice"}]}}}`
	conn.push(event)
	attach := conn.expect(t, "attach")
	assert.EqualValues(t, 42, attach["session_id"])

	// Still attaching: a repeated listing must not start a second attach.
	conn.push(event)
	barrier(t, conn, rec)
	conn.expectNothing(t)

	conn.pushf(`{"janus":"success","transaction":%q,"data":{"id":8}}`, attach["transaction"])
	join := conn.expect(t, "message")
	b := body(t, join)
	assert.Equal(t, "subscriber", b["ptype"])
	assert.EqualValues(t, 99, b["feed"])

	assert.Contains(t, ch.Handles(), core.HandleDTO{ID: 8, Kind: "subscriber", Feed: 99, Display: "Alice"})

	// Known feed now: listing it again is a no-op.
	conn.push(event)
	barrier(t, conn, rec)
	conn.expectNothing(t)
}

func TestFeedGoneWhileAttachingIsDetached(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())

	event := `{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event","publishers":[{"id":"99","display":"Alice"}]}}}`
	conn.push(event)
	attach := conn.expect(t, "attach")

	conn.push(`{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event","leaving":99}}}`)
	barrier(t, conn, rec)
	conn.expectNothing(t)

	// The attach lands after Alice left: the handle goes away without a join.
	conn.pushf(`{"janus":"success","transaction":%q,"data":{"id":8}}`, attach["transaction"])
	detach := conn.expect(t, "detach")
	assert.EqualValues(t, 8, detach["handle_id"])
	conn.pushf(`{"janus":"success","transaction":%q}`, detach["transaction"])
	barrier(t, conn, rec)
	conn.expectNothing(t)

	assert.Equal(t, []core.HandleDTO{{ID: 7, Kind: "publisher", Display: "me"}}, ch.Handles())
	assert.Empty(t, rec.snapshot(&rec.left), "never announced, never reported as left")
	assert.Zero(t, ch.PendingTransactions())
	assert.Zero(t, rec.count(core.KindRoomNotFound))

	// Alice coming back is a new subscription.
	conn.push(event)
	conn.expect(t, "attach")
}

func TestSubscriberOfferAndAnswer(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())
	subscribeAlice(t, ch, conn)

	conn.push(`{"janus":"event","sender":8,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"attached","room":1234,"id":99}},"jsep":{"type":"offer","sdp":"v=0 remote"}}`)
	require.Eventually(t, func() bool { return len(rec.snapshot(&rec.offers)) == 1 }, wait, 5*time.Millisecond)
	assert.Equal(t, []domain.HandleID{8}, rec.snapshot(&rec.offers))

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 local"}
	require.NoError(t, ch.Answer(8, answer))
	msg := conn.expect(t, "message")
	assert.EqualValues(t, 8, msg["handle_id"])
	b := body(t, msg)
	assert.Equal(t, "start", b["request"])
	assert.EqualValues(t, 1234, b["room"])
	assert.Equal(t, map[string]any{"type": "answer", "sdp": "v=0 local"}, msg["jsep"])

	assert.ErrorIs(t, ch.Answer(7, answer), core.ErrUnknownHandle)
	assert.ErrorIs(t, ch.Publish(8, answer), core.ErrUnknownHandle)
}

func TestParticipantLeaves(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())
	subscribeAlice(t, ch, conn)

	leaving := `{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event","leaving":"99"}}}`
	conn.push(leaving)
	detach := conn.expect(t, "detach")
	assert.EqualValues(t, 8, detach["handle_id"])
	assert.EqualValues(t, 42, detach["session_id"])

	conn.push(leaving)
	barrier(t, conn, rec)
	conn.expectNothing(t)
	assert.Empty(t, rec.snapshot(&rec.left), "handle stays until the server confirms")

	conn.pushf(`{"janus":"success","transaction":%q}`, detach["transaction"])
	require.Eventually(t, func() bool { return len(rec.snapshot(&rec.left)) == 1 }, wait, 5*time.Millisecond)

	// A late detached push for the same handle changes nothing.
	conn.push(`{"janus":"detached","session_id":42,"sender":8}`)
	barrier(t, conn, rec)

	assert.Equal(t, []domain.HandleID{8}, rec.snapshot(&rec.left))
	assert.Equal(t, []core.HandleDTO{{ID: 7, Kind: "publisher", Display: "me"}}, ch.Handles())
	assert.ErrorIs(t, ch.Trickle(8, webrtc.ICECandidateInit{Candidate: "candidate:1"}), core.ErrUnknownHandle)
}

func TestUnpublishedTreatedAsLeaving(t *testing.T) {
	ch, conn, _ := bootstrap(t, testConfig())
	subscribeAlice(t, ch, conn)

	conn.push(`{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event","unpublished":99}}}`)
	detach := conn.expect(t, "detach")
	assert.EqualValues(t, 8, detach["handle_id"])
}

func TestDetachedPushRemovesWithoutRequest(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())
	subscribeAlice(t, ch, conn)

	conn.push(`{"janus":"detached","session_id":42,"sender":8}`)
	require.Eventually(t, func() bool { return len(rec.snapshot(&rec.left)) == 1 }, wait, 5*time.Millisecond)
	barrier(t, conn, rec)
	conn.expectNothing(t)
	assert.Len(t, ch.Handles(), 1)
}

func TestDetachFailureStillDropsHandle(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())
	subscribeAlice(t, ch, conn)

	conn.push(`{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"leaving":99}}}`)
	detach := conn.expect(t, "detach")
	conn.pushf(`{"janus":"error","transaction":%q,"error":{"code":459,"reason":"No such handle"}}`, detach["transaction"])

	require.Eventually(t, func() bool { return len(rec.snapshot(&rec.left)) == 1 }, wait, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count(core.KindTransactionFailure))
	assert.Len(t, ch.Handles(), 1)
}

func TestUnknownSenderIsDropped(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())

	conn.push(`{"janus":"event","sender":555,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"joined","publishers":[{"id":1,"display":"x"}],"leaving":3}},"jsep":{"type":"offer","sdp":"x"}}`)
	conn.push(`{"janus":"detached","sender":555}`)
	conn.push(`{"janus":"success","transaction":"nobody-asked","data":{"id":1}}`)
	conn.push(`{"janus":"error","transaction":"nobody-asked","error":{"code":1,"reason":"x"}}`)
	conn.push(`{"janus":"ack","transaction":"whatever"}`)
	conn.push(`{"janus":"webrtcup","sender":7}`)
	barrier(t, conn, rec)

	conn.expectNothing(t)
	assert.Equal(t, []core.Kind{core.KindMalformedMessage}, rec.kinds())
	assert.Empty(t, rec.snapshot(&rec.ready))
	assert.Empty(t, rec.snapshot(&rec.offers))
	assert.Empty(t, rec.snapshot(&rec.left))
	assert.Len(t, ch.Handles(), 1)
}

// syncBuffer is a log sink safe to read while the channel is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestUnknownSenderIsLoggedAtWarn(t *testing.T) {
	rec := &recorder{}
	ch := New(testConfig(), rec)
	logs := &syncBuffer{}
	ch.log = zerolog.New(logs)
	_, conn, _ := bootstrapChannel(t, ch, rec)

	conn.push(`{"janus":"event","sender":555,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event"}}}`)
	conn.push(`{"janus":"detached","sender":555}`)
	conn.push(`{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event","unpublished":3}}}`)
	barrier(t, conn, rec)

	for _, msg := range []string{"event for unknown handle dropped", "detached for unknown handle dropped", "unknown feed dropped"} {
		found := false
		for _, line := range strings.Split(logs.String(), "\n") {
			if strings.Contains(line, msg) {
				found = true
				assert.Contains(t, line, `"level":"warn"`, msg)
			}
		}
		assert.True(t, found, "no log line %q", msg)
	}
}

func TestMalformedMessageKeepsChannelAlive(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())

	conn.push(`{"janus":"event","sender":7,"plugindata":{"data":"not an object"}}`)
	conn.push(`{"janus":"event","sender":7,"plugindata":{"data":{}},"jsep":{"type":"bogus","sdp":"x"}}`)
	require.Eventually(t, func() bool { return rec.count(core.KindMalformedMessage) == 2 }, wait, 5*time.Millisecond)

	require.NoError(t, ch.Trickle(7, webrtc.ICECandidateInit{Candidate: "candidate:1"}))
	conn.expect(t, "trickle")
	assert.NotEqual(t, StateClosed, ch.State())
}

func TestRoomErrorIsReported(t *testing.T) {
	_, conn, rec := bootstrap(t, testConfig())

	conn.push(`{"janus":"event","sender":7,"plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"event","error_code":426,"error":"No such room (1234)"}}}`)
	require.Eventually(t, func() bool { return rec.count(core.KindRoomNotFound) == 1 }, wait, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, "No such room (1234)", rec.errs[0].Detail)
	rec.mu.Unlock()
}

func TestTransactionFailureCarriesServerError(t *testing.T) {
	conn := newFakeConn()
	rec := &recorder{}
	ch := New(testConfig(), rec)
	t.Cleanup(func() { _ = ch.Close() })
	require.NoError(t, ch.Connect(context.Background(), fakeDialer{conn: conn}, "ws://janus.test"))

	create := conn.expect(t, "create")
	conn.pushf(`{"janus":"error","transaction":%q,"error":{"code":403,"reason":"Unauthorized request"}}`, create["transaction"])
	require.Eventually(t, func() bool { return rec.count(core.KindTransactionFailure) == 1 }, wait, 5*time.Millisecond)

	rec.mu.Lock()
	var se janus.ServerError
	assert.ErrorAs(t, rec.errs[0], &se)
	detail := rec.errs[0].Detail
	rec.mu.Unlock()
	assert.Equal(t, 403, se.Code)
	assert.Contains(t, detail, "create session")
	assert.Contains(t, detail, `"reason":"Unauthorized request"`)
	assert.True(t, ch.SessionID().IsZero())
}

func TestSessionReplyWithoutIDClosesChannel(t *testing.T) {
	conn := newFakeConn()
	rec := &recorder{}
	ch := New(testConfig(), rec)
	require.NoError(t, ch.Connect(context.Background(), fakeDialer{conn: conn}, "ws://janus.test"))

	create := conn.expect(t, "create")
	conn.pushf(`{"janus":"success","transaction":%q,"data":{}}`, create["transaction"])
	select {
	case <-ch.Done():
	case <-time.After(wait):
		t.Fatal("channel never finished closing")
	}
	assert.Equal(t, []core.Kind{core.KindMalformedMessage}, rec.kinds())
	assert.Equal(t, StateClosed, ch.State())
}

func TestPublisherAttachReplyWithoutIDClosesChannel(t *testing.T) {
	conn := newFakeConn()
	rec := &recorder{}
	ch := New(testConfig(), rec)
	require.NoError(t, ch.Connect(context.Background(), fakeDialer{conn: conn}, "ws://janus.test"))

	create := conn.expect(t, "create")
	conn.pushf(`{"janus":"success","transaction":%q,"data":{"id":42}}`, create["transaction"])
	attach := conn.expect(t, "attach")
	conn.pushf(`{"janus":"success","transaction":%q,"data":{}}`, attach["transaction"])
	select {
	case <-ch.Done():
	case <-time.After(wait):
		t.Fatal("channel never finished closing")
	}
	assert.Equal(t, []core.Kind{core.KindMalformedMessage}, rec.kinds())
	assert.Empty(t, ch.Handles())
	assert.True(t, ch.PublisherHandle().IsZero())
}

func TestTransactionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TransactionTimeout = 30 * time.Millisecond
	conn := newFakeConn()
	rec := &recorder{}
	ch := New(cfg, rec)
	t.Cleanup(func() { _ = ch.Close() })
	require.NoError(t, ch.Connect(context.Background(), fakeDialer{conn: conn}, "ws://janus.test"))

	create := conn.expect(t, "create")
	require.Eventually(t, func() bool { return rec.count(core.KindTransactionTimeout) == 1 }, wait, 5*time.Millisecond)
	assert.Zero(t, ch.PendingTransactions())

	conn.pushf(`{"janus":"success","transaction":%q,"data":{"id":42}}`, create["transaction"])
	barrier(t, conn, rec)
	assert.True(t, ch.SessionID().IsZero(), "late answer is dropped")
	conn.expectNothing(t)
}

func TestTrickle(t *testing.T) {
	ch, conn, _ := bootstrap(t, testConfig())

	mid := "0"
	idx := uint16(0)
	require.NoError(t, ch.Trickle(7, webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}))
	msg := conn.expect(t, "trickle")
	assert.EqualValues(t, 7, msg["handle_id"])
	assert.Equal(t, map[string]any{
		"candidate":     "candidate:1 1 udp 1 10.0.0.1 5000 typ host",
		"sdpMid":        "0",
		"sdpMLineIndex": float64(0),
	}, msg["candidate"])

	require.NoError(t, ch.TrickleComplete(7))
	msg = conn.expect(t, "trickle")
	assert.Equal(t, map[string]any{"completed": true}, msg["candidate"])

	assert.ErrorIs(t, ch.TrickleComplete(404), core.ErrUnknownHandle)
	assert.Zero(t, ch.PendingTransactions(), "trickles are not tracked")
}

func TestKeepAliveIsNotTracked(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAliveInterval = 20 * time.Millisecond
	ch, conn, _ := bootstrap(t, cfg)

	ka := conn.expect(t, "keepalive")
	assert.EqualValues(t, 42, ka["session_id"])
	assert.NotEmpty(t, ka["transaction"])
	assert.Zero(t, ch.PendingTransactions())
}

func TestRequestsBeforeSession(t *testing.T) {
	ch := New(testConfig(), nil)
	assert.ErrorIs(t, ch.Publish(7, webrtc.SessionDescription{}), core.ErrNotConnected)
	assert.ErrorIs(t, ch.TrickleComplete(7), core.ErrNotConnected)
	assert.Equal(t, StateDisconnected, ch.State())

	require.NoError(t, ch.Close())
	assert.Equal(t, StateClosed, ch.State())
	assert.ErrorIs(t, ch.Publish(7, webrtc.SessionDescription{}), core.ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())
	subscribeAlice(t, ch, conn)
	conn.push(`{"janus":"event","sender":7,"plugindata":{"data":{"leaving":99}}}`)
	conn.expect(t, "detach")
	require.Eventually(t, func() bool { return ch.PendingTransactions() == 1 }, wait, 5*time.Millisecond)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	select {
	case <-ch.Done():
	case <-time.After(wait):
		t.Fatal("channel never finished closing")
	}
	require.NoError(t, ch.Close())

	assert.Equal(t, StateClosed, ch.State())
	assert.Empty(t, ch.Handles())
	assert.Zero(t, ch.PendingTransactions())
	assert.Empty(t, rec.snapshot(&rec.left), "dropped transactions run no continuation")
	assert.Zero(t, rec.count(core.KindTransportFailure), "a requested close is not a failure")
	conn.mu.Lock()
	assert.Equal(t, 1, conn.controls)
	conn.mu.Unlock()

	assert.ErrorIs(t, ch.Publish(7, webrtc.SessionDescription{}), core.ErrClosed)
	assert.ErrorIs(t, ch.Connect(context.Background(), fakeDialer{conn: conn}, "ws://janus.test"), core.ErrAlreadyStarted)
}

func TestSocketLossIsReported(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())

	conn.drop(errors.New("connection reset by peer"))
	select {
	case <-ch.Done():
	case <-time.After(wait):
		t.Fatal("channel never finished closing")
	}
	assert.Equal(t, 1, rec.count(core.KindTransportFailure))
	assert.Equal(t, StateClosed, ch.State())
	assert.Empty(t, ch.Handles())
	assert.ErrorIs(t, ch.TrickleComplete(7), core.ErrClosed)
}

func TestServerSessionTimeoutClosesChannel(t *testing.T) {
	ch, conn, rec := bootstrap(t, testConfig())

	conn.push(`{"janus":"timeout","session_id":42}`)
	select {
	case <-ch.Done():
	case <-time.After(wait):
		t.Fatal("channel never finished closing")
	}
	assert.Equal(t, 1, rec.count(core.KindTransportFailure))
}

func TestDialFailure(t *testing.T) {
	rec := &recorder{}
	ch := New(testConfig(), rec)
	boom := errors.New("connection refused")

	err := ch.Connect(context.Background(), fakeDialer{err: boom}, "ws://janus.test")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, ch.State())
	assert.Equal(t, []core.Kind{core.KindTransportFailure}, rec.kinds())
	<-ch.Done()
	require.NoError(t, ch.Close())
}
