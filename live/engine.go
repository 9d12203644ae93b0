// Package live runs one duplex voice session against the Gemini Live
// endpoint: it owns the channel, the audio devices, turn bookkeeping and
// reconnection.
//
// All session state is owned by a single goroutine that receives every event
// (API calls, dial results, inbound frames, channel loss, timers) from a
// mailbox. Audio callbacks never enter that goroutine; they only read atomics
// and the tuning store.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"warmcall/audio"
	"warmcall/capture"
	"warmcall/codec"
	"warmcall/log"
	"warmcall/playback"
	"warmcall/transport"
	"warmcall/tuning"
)

const (
	DefaultModel           = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice           = "Kore"
	DefaultLanguage        = "en-US"
	DefaultSessionLifetime = 14 * time.Minute

	dialTimeout   = 15 * time.Second
	mailboxSize   = 256
	turnQueueSize = 32
)

const (
	timerLifetime = iota
	timerTurnDone
	timerBackoff
	numTimers
)

var (
	DefaultCapture  = codec.Format{SampleRate: 48000, Channels: 1}
	DefaultPlayback = codec.Format{SampleRate: 48000, Channels: 2}
)

var (
	ErrEngineClosed = errors.New("engine closed")
	errAborted      = errors.New("connect aborted")
	errLifetime     = errors.New("session lifetime reached")
)

// TurnFunc receives one completed exchange. Callbacks run in order on a
// goroutine of their own, so they may call back into the Engine.
type TurnFunc func(input, output string)

type Config struct {
	Model    string
	Voice    string
	Language string

	// nil selects the system default device
	CaptureDevice  *audio.DeviceInfo
	PlaybackDevice *audio.DeviceInfo
	CaptureFormat  codec.Format
	PlaybackFormat codec.Format

	SessionLifetime time.Duration
	MaxReconnects   int
	BackoffBase     time.Duration
	SendQueue       int
	Clock           Clock
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.CaptureFormat == (codec.Format{}) {
		c.CaptureFormat = DefaultCapture
	}
	if c.PlaybackFormat == (codec.Format{}) {
		c.PlaybackFormat = DefaultPlayback
	}
	if c.SessionLifetime <= 0 {
		c.SessionLifetime = DefaultSessionLifetime
	}
	if c.SendQueue <= 0 {
		c.SendQueue = capture.DefaultQueueSize
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return c
}

type Engine struct {
	cfg     Config
	dialer  transport.Dialer
	devices audio.Context
	tuning  *tuning.Store
	clock   Clock

	mailbox   chan any
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	turns     chan completedTurn
	turnsDone chan struct{}

	state      atomic.Pointer[State]
	turnID     atomic.Uint64
	speaking   atomic.Bool
	muted      atomic.Bool
	transcript transcript

	// owned by run
	prompt      string
	memory      string
	onTurn      TurnFunc
	link        *link
	gen         uint64
	policy      ReconnectPolicy
	inTurn      bool
	interrupted bool
	lastInput   time.Time
	lastLatency time.Duration
	turnChunks  int
	waiters     []chan error
	timers      [numTimers]Timer
	timerSeq    [numTimers]uint64
	startedAt   time.Time
}

// link is one channel generation together with the devices and pipelines
// opened for it.
type link struct {
	gen  uint64
	user bool
	ctx  context.Context
	stop context.CancelFunc

	capDev   audio.CaptureDevice
	playDev  audio.PlaybackDevice
	capture  *capture.Pipeline
	playback *playback.Pipeline

	ch       transport.Channel
	sendDone chan struct{}
	recvDone chan struct{}
}

type completedTurn struct {
	fn            TurnFunc
	input, output string
}

type (
	connectReq struct {
		ctx   context.Context
		reply chan error
	}
	disconnectReq struct{ reply chan struct{} }
	configureReq  struct {
		prompt, memory string
		memoryOnly     bool
	}
	onTurnReq  struct{ fn TurnFunc }
	dialResult struct {
		gen   uint64
		ch    transport.Channel
		stats transport.DialStats
		err   error
	}
	inboundMsg struct {
		gen  uint64
		data []byte
	}
	linkClosed struct {
		gen uint64
		err error
	}
	timerFired struct {
		kind int
		seq  uint64
	}
)

func New(cfg Config, dialer transport.Dialer, devices audio.Context, store *tuning.Store) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		dialer:    dialer,
		devices:   devices,
		tuning:    store,
		clock:     cfg.Clock,
		mailbox:   make(chan any, mailboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		turns:     make(chan completedTurn, turnQueueSize),
		turnsDone: make(chan struct{}),
		policy:    NewReconnectPolicy(cfg.MaxReconnects, cfg.BackoffBase),
	}
	s := stateOf(Disconnected)
	e.state.Store(&s)
	go e.run()
	go e.runCallbacks()
	return e
}

// Configure sets the prompt and memory used by the next handshake. A live
// session keeps the instructions it was opened with.
func (e *Engine) Configure(systemPrompt, memoryContext string) {
	e.post(configureReq{prompt: systemPrompt, memory: memoryContext})
}

// UpdateMemoryContext replaces only the memory part of the instructions.
func (e *Engine) UpdateMemoryContext(memoryContext string) {
	e.post(configureReq{memory: memoryContext, memoryOnly: true})
}

func (e *Engine) OnTurn(fn TurnFunc) {
	e.post(onTurnReq{fn: fn})
}

// Connect opens the audio devices and the channel. It returns once the
// channel is open, or with the device or dial error. It does nothing while a
// session is connecting or connected.
func (e *Engine) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case e.mailbox <- connectReq{ctx: ctx, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineClosed
	}
}

// Disconnect ends the session from any state, including a pending
// reconnect, and resets turn state and metrics. It is safe to call twice.
func (e *Engine) Disconnect(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case e.mailbox <- disconnectReq{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return nil
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return nil
	}
}

// Close disconnects and stops the engine. Pending turn callbacks still run.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.done
		close(e.turns)
		<-e.turnsDone
	})
}

func (e *Engine) SetMicMuted(muted bool) {
	if e.muted.Swap(muted) != muted {
		log.Infof("mic muted: %v", muted)
	}
}

func (e *Engine) MicMuted() bool      { return e.muted.Load() }
func (e *Engine) State() State        { return *e.state.Load() }
func (e *Engine) TurnID() uint64      { return e.turnID.Load() }
func (e *Engine) ModelSpeaking() bool { return e.speaking.Load() }

// Transcripts returns the exchange accumulated since the last completed turn.
func (e *Engine) Transcripts() (input, output string) {
	return e.transcript.snapshot()
}

func (e *Engine) Tuning() *tuning.Store { return e.tuning }

func (e *Engine) post(ev any) {
	select {
	case e.mailbox <- ev:
	case <-e.done:
	}
}

// postLink delivers an event from a link goroutine, giving up once the link
// is torn down.
func (e *Engine) postLink(l *link, ev any) {
	select {
	case e.mailbox <- ev:
	case <-l.ctx.Done():
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case ev := <-e.mailbox:
			e.handle(ev)
		case <-e.quit:
			e.disconnect()
			return
		}
	}
}

func (e *Engine) runCallbacks() {
	defer close(e.turnsDone)
	for t := range e.turns {
		t.fn(t.input, t.output)
	}
}

func (e *Engine) handle(ev any) {
	switch ev := ev.(type) {
	case connectReq:
		e.connect(ev)
	case disconnectReq:
		e.disconnect()
		close(ev.reply)
	case configureReq:
		if !ev.memoryOnly {
			e.prompt = ev.prompt
		}
		e.memory = ev.memory
	case onTurnReq:
		e.onTurn = ev.fn
	case dialResult:
		e.dialed(ev)
	case inboundMsg:
		if e.current(ev.gen) {
			e.handleInbound(ev.data)
		}
	case linkClosed:
		if e.current(ev.gen) {
			e.linkLost(ev.err)
		}
	case timerFired:
		e.timerFired(ev)
	}
}

func (e *Engine) current(gen uint64) bool {
	return e.link != nil && e.link.gen == gen
}

func (e *Engine) setState(s State) {
	old := e.State()
	e.state.Store(&s)
	if old.Status != s.Status || old.Reason != s.Reason {
		log.StateChange(old.String(), s.String(), e.policy.Attempt)
	}
}

func (e *Engine) connect(req connectReq) {
	switch e.State().Status {
	case Connecting, Connected:
		req.reply <- nil
		return
	}
	e.stopTimer(timerBackoff)
	e.policy.Reset()
	if e.startedAt.IsZero() {
		e.startedAt = e.clock.Now()
	}
	if err := e.startLink(req.ctx, true); err != nil {
		e.setState(failedState(err))
		req.reply <- err
		return
	}
	e.waiters = append(e.waiters, req.reply)
}

// startLink opens the devices for a new generation and dials in the
// background. Device errors are returned with nothing left open.
func (e *Engine) startLink(callerCtx context.Context, user bool) error {
	e.gen++
	l := &link{gen: e.gen, user: user}
	l.ctx, l.stop = context.WithCancel(context.Background())
	if err := e.openAudio(l); err != nil {
		l.stop()
		return err
	}
	e.link = l
	e.setState(stateOf(Connecting))

	dialCtx, cancel := context.WithTimeout(l.ctx, dialTimeout)
	stopCaller := func() bool { return false }
	if callerCtx != nil {
		stopCaller = context.AfterFunc(callerCtx, cancel)
	}
	go func() {
		defer cancel()
		defer stopCaller()
		ch, stats, err := e.dialer.Dial(dialCtx)
		select {
		case e.mailbox <- dialResult{gen: l.gen, ch: ch, stats: stats, err: err}:
		case <-l.ctx.Done():
			if ch != nil {
				ch.Close()
			}
		}
	}()
	return nil
}

func (e *Engine) openAudio(l *link) (err error) {
	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	capDev, err := e.devices.NewCapture(e.cfg.CaptureDevice, streamConfig(e.cfg.CaptureFormat))
	if err != nil {
		return fmt.Errorf("opening capture device: %w", err)
	}
	cleanup = append(cleanup, capDev.Close)

	playDev, err := e.devices.NewPlayback(e.cfg.PlaybackDevice, streamConfig(e.cfg.PlaybackFormat))
	if err != nil {
		return fmt.Errorf("opening playback device: %w", err)
	}
	cleanup = append(cleanup, playDev.Close)

	cp, err := capture.New(formatOf(capDev.Config()), e.tuning, e.muted.Load, e.speaking.Load, e.cfg.SendQueue)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, cp.Close)

	pp, err := playback.New(formatOf(playDev.Config()), e.tuning.Metrics())
	if err != nil {
		return err
	}

	capDev.SetCallback(cp.HandleFrame)
	playDev.SetSource(pp.Fill)
	l.capDev, l.playDev = capDev, playDev
	l.capture, l.playback = cp, pp
	return nil
}

func (e *Engine) dialed(r dialResult) {
	if !e.current(r.gen) {
		if r.ch != nil {
			r.ch.Close()
		}
		return
	}
	l := e.link
	if r.err != nil {
		err := fmt.Errorf("connecting: %w", r.err)
		if l.user {
			e.teardown(err)
			e.setState(failedState(err))
			return
		}
		log.Warnf("reconnect failed: %v", r.err)
		e.linkLost(err)
		return
	}

	log.Infof("channel open in %dms (dns %dms, tls %dms)",
		r.stats.Total.Milliseconds(), r.stats.DNS.Milliseconds(), r.stats.TLS.Milliseconds())

	cfg := e.tuning.Config()
	setup, err := buildSetup(handshake{
		Model:     e.cfg.Model,
		Voice:     e.cfg.Voice,
		Language:  e.cfg.Language,
		Prompt:    e.prompt,
		Memory:    e.memory,
		Tuning:    cfg,
		Detection: e.tuning.Reconfigured(),
	})
	if err != nil {
		r.ch.Close()
		e.teardown(err)
		e.setState(failedState(err))
		return
	}

	l.ch = r.ch
	l.sendDone = make(chan struct{})
	l.recvDone = make(chan struct{})
	go e.runSender(l, setup)
	go e.runReceiver(l)

	e.startTimer(timerLifetime, e.cfg.SessionLifetime)
	log.SessionStart(e.cfg.Model, e.cfg.Voice, e.cfg.Language, e.tuning.Reconfigured())

	for _, w := range e.waiters {
		w <- nil
	}
	e.waiters = nil
}

func (e *Engine) runSender(l *link, setup []byte) {
	defer close(l.sendDone)
	if err := l.ch.Send(l.ctx, setup); err != nil {
		e.postLink(l, linkClosed{gen: l.gen, err: fmt.Errorf("sending setup: %w", err)})
		return
	}
	for pcm := range l.capture.Frames() {
		msg, err := buildRealtimeInput(pcm)
		if err != nil {
			log.Warnf("capture: %v", err)
			continue
		}
		if err := l.ch.Send(l.ctx, msg); err != nil {
			e.postLink(l, linkClosed{gen: l.gen, err: fmt.Errorf("sending audio: %w", err)})
			return
		}
	}
}

func (e *Engine) runReceiver(l *link) {
	defer close(l.recvDone)
	for {
		data, err := l.ch.Recv(l.ctx)
		if err != nil {
			e.postLink(l, linkClosed{gen: l.gen, err: err})
			return
		}
		e.postLink(l, inboundMsg{gen: l.gen, data: data})
	}
}

// teardown releases the current link: capture first so no new frames
// arrive, then the sender and channel, then playback and the devices. Turn
// state goes with it; metrics do not.
func (e *Engine) teardown(cause error) {
	l := e.link
	if l == nil {
		return
	}
	e.link = nil

	l.capDev.ClearCallback()
	l.capDev.Stop()
	l.capture.Close()
	l.stop()
	if l.sendDone != nil {
		<-l.sendDone
	}
	if l.ch != nil {
		l.ch.Close()
	}
	if l.recvDone != nil {
		<-l.recvDone
	}
	l.playDev.ClearSource()
	l.playDev.Stop()
	l.playback.Flush()
	l.capDev.Close()
	l.playDev.Close()

	e.stopTimer(timerLifetime)
	e.stopTimer(timerTurnDone)
	e.turnID.Store(0)
	e.speaking.Store(false)
	e.inTurn = false
	e.interrupted = false
	e.lastInput = time.Time{}
	e.transcript.reset()

	if len(e.waiters) > 0 {
		if cause == nil {
			cause = errAborted
		}
		for _, w := range e.waiters {
			w <- cause
		}
		e.waiters = nil
	}
}

// linkLost tears down after an unexpected loss and starts the reconnect
// sequence.
func (e *Engine) linkLost(cause error) {
	log.Warnf("session lost: %v", cause)
	e.teardown(cause)
	e.setState(failedState(cause))
	e.scheduleReconnect()
}

func (e *Engine) scheduleReconnect() {
	delay, ok := e.policy.Next()
	if !ok {
		log.Errorf("giving up after %d reconnect attempts", e.policy.MaxAttempts)
		e.setState(failedState(ErrRetriesExhausted))
		return
	}
	log.Infof("reconnecting in %v (attempt %d/%d)", delay, e.policy.Attempt, e.policy.MaxAttempts)
	e.startTimer(timerBackoff, delay)
}

func (e *Engine) reconnect() {
	if e.link != nil {
		return
	}
	if err := e.startLink(nil, false); err != nil {
		log.Warnf("reconnect failed: %v", err)
		e.setState(failedState(err))
		e.scheduleReconnect()
	}
}

func (e *Engine) disconnect() {
	for k := range numTimers {
		e.stopTimer(k)
	}
	e.teardown(errAborted)
	e.policy.Reset()
	e.muted.Store(false)
	if !e.startedAt.IsZero() {
		log.SessionEnd(e.tuning.Metrics().TurnCount(), e.clock.Now().Sub(e.startedAt))
		e.startedAt = time.Time{}
	}
	e.tuning.Metrics().Reset()
	e.setState(stateOf(Disconnected))
}

func (e *Engine) startTimer(kind int, d time.Duration) {
	e.stopTimer(kind)
	seq := e.timerSeq[kind]
	e.timers[kind] = e.clock.AfterFunc(d, func() {
		select {
		case e.mailbox <- timerFired{kind: kind, seq: seq}:
		case <-e.quit:
		}
	})
}

// stopTimer also invalidates a firing that is already queued.
func (e *Engine) stopTimer(kind int) {
	if t := e.timers[kind]; t != nil {
		t.Stop()
		e.timers[kind] = nil
	}
	e.timerSeq[kind]++
}

func (e *Engine) timerFired(ev timerFired) {
	if ev.seq != e.timerSeq[ev.kind] {
		return
	}
	e.timers[ev.kind] = nil
	e.timerSeq[ev.kind]++

	switch ev.kind {
	case timerLifetime:
		if e.link != nil {
			e.linkLost(errLifetime)
		}
	case timerTurnDone:
		if !e.inTurn {
			e.speaking.Store(false)
		}
	case timerBackoff:
		e.reconnect()
	}
}

func (e *Engine) handleInbound(data []byte) {
	msg, err := parseServerMessage(data)
	if err != nil {
		log.Warnf("dropping frame: %v", err)
		return
	}
	if msg.SetupComplete != nil {
		e.setupComplete()
		if e.link == nil {
			return
		}
	}
	if msg.GoAway != nil {
		e.linkLost(fmt.Errorf("server go-away (time left %s)", msg.GoAway.TimeLeft))
		return
	}
	if msg.ServerContent != nil {
		e.serverContent(msg.ServerContent)
	}
	if msg.SetupComplete == nil && msg.ServerContent == nil {
		log.Debugf("ignoring message: %.120s", data)
	}
}

func (e *Engine) setupComplete() {
	if e.State().Status != Connecting {
		return
	}
	l := e.link
	if err := l.playDev.Start(); err != nil {
		e.linkLost(fmt.Errorf("starting playback: %w", err))
		return
	}
	if err := l.capDev.Start(); err != nil {
		e.linkLost(fmt.Errorf("starting capture: %w", err))
		return
	}
	e.policy.Reset()
	e.setState(stateOf(Connected))
}

func (e *Engine) serverContent(sc *serverContent) {
	m := e.tuning.Metrics()
	if sc.Interrupted {
		e.link.playback.Flush()
		e.interrupted = true
		e.inTurn = false
		e.speaking.Store(false)
		e.stopTimer(timerTurnDone)
		m.IncInterrupt()
		log.Infof("turn %d interrupted", e.turnID.Load())
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			e.modelPart(p)
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		e.transcript.appendInput(t.Text)
		e.lastInput = e.clock.Now()
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		e.transcript.appendOutput(t.Text)
	}
	if sc.TurnComplete {
		e.turnComplete()
	}
}

func (e *Engine) modelPart(p part) {
	m := e.tuning.Metrics()
	if e.interrupted {
		m.IncDropped()
		return
	}
	if p.InlineData != nil {
		e.modelAudio(p.InlineData)
	}
	if p.Text != "" {
		e.transcript.appendOutput(p.Text)
	}
}

func (e *Engine) modelAudio(d *inlineData) {
	m := e.tuning.Metrics()
	// untyped inline data is the endpoint's default output format
	format := codec.WireOutput
	if d.MIMEType != "" {
		var ok bool
		if format, ok = codec.ParseMIME(d.MIMEType); !ok {
			m.IncConversionError()
			log.Warnf("dropping model audio of type %q", d.MIMEType)
			return
		}
	}
	pcm, err := codec.Decode(d.Data)
	if err != nil {
		m.IncConversionError()
		log.Warnf("dropping model audio: %v", err)
		return
	}
	if !e.inTurn {
		e.beginTurn()
	}
	e.link.playback.Enqueue(codec.Chunk{Data: pcm, Format: format, Turn: e.turnID.Load()})
	e.turnChunks++
}

func (e *Engine) beginTurn() {
	m := e.tuning.Metrics()
	turn := e.turnID.Add(1)
	e.link.playback.Advance(turn)
	e.inTurn = true
	e.speaking.Store(true)
	e.stopTimer(timerTurnDone)
	e.turnChunks = 0
	m.IncTurn()
	e.lastLatency = 0
	if !e.lastInput.IsZero() {
		e.lastLatency = e.clock.Now().Sub(e.lastInput)
		m.AddLatency(e.lastLatency)
		e.lastInput = time.Time{}
	}
}

func (e *Engine) turnComplete() {
	e.interrupted = false
	e.inTurn = false
	e.startTimer(timerTurnDone, e.tuning.TurnCompleteDelay())

	in, out := e.transcript.take()
	snap := e.tuning.Metrics().Snapshot()
	log.TurnMetrics(log.TurnStats{
		Turn:           e.turnID.Load(),
		LatencyMs:      e.lastLatency.Milliseconds(),
		AvgLatencyMs:   snap.AvgResponseLatencyMs,
		Interrupts:     snap.InterruptCount,
		DroppedChunks:  snap.DroppedAudioCount,
		InputChars:     len(in),
		OutputChars:    len(out),
		AudioChunksOut: e.turnChunks,
	})
	if (in == "" && out == "") || e.onTurn == nil {
		return
	}
	select {
	case e.turns <- completedTurn{fn: e.onTurn, input: in, output: out}:
	default:
		log.Warn("turn callback queue full, dropping exchange")
	}
}

func streamConfig(f codec.Format) audio.StreamConfig {
	return audio.StreamConfig{SampleRate: uint32(f.SampleRate), Channels: uint32(f.Channels)}
}

func formatOf(c audio.StreamConfig) codec.Format {
	return codec.Format{SampleRate: int(c.SampleRate), Channels: int(c.Channels)}
}
