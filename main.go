package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"warmcall/audio"
	"warmcall/doctor"
	"warmcall/live"
	"warmcall/log"
	"warmcall/shutdown"
	"warmcall/transport"
	"warmcall/tuning"
)

var version = "dev"

type options struct {
	tuningPath string
	promptPath string
	memoryPath string
	inDevice   string
	outDevice  string
	setup      bool
	model      string
	voice      string
	language   string
	endpoint   string
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	flag.StringVar(&opts.tuningPath, "tuning", "", "tuning file (default: tuning.yaml in the log directory)")
	flag.StringVar(&opts.promptPath, "prompt", "", "file with the system prompt")
	flag.StringVar(&opts.memoryPath, "memory", "", "file with what the assistant knows about the user")
	flag.StringVar(&opts.inDevice, "device", "", "use named microphone device")
	flag.StringVar(&opts.outDevice, "output-device", "", "use named speaker device")
	flag.BoolVar(&opts.setup, "setup", false, "select microphone and speaker interactively")
	flag.StringVar(&opts.model, "model", live.DefaultModel, "live model name")
	flag.StringVar(&opts.voice, "voice", live.DefaultVoice, "prebuilt voice name")
	flag.StringVar(&opts.language, "lang", live.DefaultLanguage, "BCP-47 language code for speech")
	flag.StringVar(&opts.endpoint, "endpoint", transport.GeminiLiveURL, "live websocket endpoint")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	debugFlag := flag.Bool("debug", false, "write debug events to the diagnostics log")
	profileFlag := flag.String("profile", "", "enable pprof profiling server (e.g., localhost:6060)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	doctorFlag := flag.Bool("doctor", false, "run system diagnostics and exit")
	testFlag := flag.Bool("test", false, "test mode (headless, stdin-driven, WAV file as microphone)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("warmcall %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	apiKey := os.Getenv("GEMINI_API_KEY")

	if *doctorFlag {
		return doctor.Run(doctor.Options{
			APIKey:   apiKey,
			Endpoint: opts.endpoint,
			Model:    opts.model,
			Out:      os.Stdout,
		})
	}

	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY is not set")
		return 1
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	if *debugFlag {
		log.SetLevel(zerolog.DebugLevel)
	}

	if opts.tuningPath == "" {
		opts.tuningPath = filepath.Join(log.Dir(), tuningFileName)
	}
	cfg, err := tuning.Load(opts.tuningPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		log.Warnf("tuning: %v", err)
	}
	store := tuning.NewStore(cfg)

	prompt, err := readText(opts.promptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if prompt == "" {
		prompt = defaultPrompt
	}
	memory, err := readText(opts.memoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	dialer, err := transport.NewGeminiDialer(opts.endpoint, apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	engineCfg := live.Config{Model: opts.model, Voice: opts.voice, Language: opts.language}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: warmcall -test <wav-file>")
			return 1
		}
		return runTestMode(ctx, args[0], engineCfg, dialer, store, prompt, memory, opts)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		return 1
	}
	defer actx.Close()

	capDev, playDev, err := resolveDevices(actx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	engineCfg.CaptureDevice, engineCfg.PlaybackDevice = capDev, playDev

	engine := live.New(engineCfg, dialer, actx, store)
	defer engine.Close()
	engine.Configure(prompt, memory)

	c := newCall(engine, store, opts.tuningPath, log.Dir())
	c.memoryPath = opts.memoryPath

	p := newTUIProgram(c, deviceLineText(capDev, playDev))
	c.notify(func(x exchange) { p.Send(exchangeMsg(x)) })
	go func() {
		if err := c.connect(ctx); err != nil {
			log.Errorf("connect: %v", err)
			p.Send(noticeMsg{text: "connect failed: " + err.Error(), err: true})
		}
	}()
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}

	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.finish(finishCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return 0
}

func runTestMode(ctx context.Context, wavPath string, cfg live.Config, dialer transport.Dialer, store *tuning.Store, prompt, memory string, opts options) int {
	fake, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	engine := live.New(cfg, dialer, fake, store)
	defer engine.Close()
	engine.Configure(prompt, memory)

	c := newCall(engine, store, opts.tuningPath, log.Dir())
	c.memoryPath = opts.memoryPath

	if err := newScriptRunner(c, fake, os.Stdout).run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// resolveDevices picks the microphone and speaker: by name, interactively
// with -setup, or nil for the system default.
func resolveDevices(ctx audio.Context, opts options) (in, out *audio.DeviceInfo, err error) {
	pick := func(kind audio.Kind, name string) (*audio.DeviceInfo, error) {
		switch {
		case name != "":
			return audio.FindDevice(ctx, kind, name)
		case opts.setup:
			return audio.SelectDevice(ctx, kind)
		}
		return nil, nil
	}
	if in, err = pick(audio.Capture, opts.inDevice); err != nil {
		return nil, nil, err
	}
	if out, err = pick(audio.Playback, opts.outDevice); err != nil {
		return nil, nil, err
	}
	if in != nil && audio.IsBluetooth(in.Name) {
		log.Warn("bluetooth microphone selected; headset profile lowers playback quality")
	}
	return in, out, nil
}

func deviceLineText(in, out *audio.DeviceInfo) string {
	name := func(d *audio.DeviceInfo) string {
		if d == nil {
			return "system default"
		}
		if audio.IsBluetooth(d.Name) {
			return d.Name + " (BT!)"
		}
		return d.Name
	}
	return "mic: " + name(in) + "  speaker: " + name(out)
}
