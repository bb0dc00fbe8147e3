// Command homectl takes commands from MQTT and drives the configured GPIO,
// PWM, temperature, heater and analog modules.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/sweeney/homectl/internal/config"
	"github.com/sweeney/homectl/internal/controller"
	"github.com/sweeney/homectl/internal/gpio"
	"github.com/sweeney/homectl/internal/logic"
	"github.com/sweeney/homectl/internal/modules"
	"github.com/sweeney/homectl/internal/modules/binin"
	"github.com/sweeney/homectl/internal/mqtt"
	"github.com/sweeney/homectl/internal/pins"
	"github.com/sweeney/homectl/internal/status"
	"github.com/sweeney/homectl/internal/web"
	"go.uber.org/zap"
)

func main() {
	fs := config.NewFlagSet("homectl")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	if dump, _ := fs.GetBool("dump-config"); dump {
		out, err := cfg.Dump()
		if err != nil {
			fmt.Fprintf(os.Stderr, "dump config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	printState, _ := fs.GetBool("print-state")
	if err := run(cfg, printState, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, printState bool, log *zap.Logger) error {
	if printState {
		return printInputs(cfg)
	}

	dev, err := openDevices(cfg)
	if err != nil {
		return fmt.Errorf("open devices: %w", err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Warn("close devices", zap.Error(err))
		}
	}()

	session := uuid.NewString()
	topics := mqtt.NewTopics(cfg.MQTT.Prefix, cfg.Name)
	tracker := status.NewTracker(time.Now(), session, status.Config{
		Name:        cfg.Name,
		PollMs:      cfg.Poll.Milliseconds(),
		DebounceMs:  cfg.BinIn.Debounce.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		PoolSize:    cfg.Scheduler.PoolSize,
	})

	client, err := mqtt.NewRealClient(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		Topics:     topics,
		BufferSize: cfg.MQTT.BufferSize,
	}, log.Named("mqtt"))
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	ctrl := controller.New(controller.Options{
		Topics:          topics,
		PoolSize:        cfg.Scheduler.PoolSize,
		SlotTableSize:   cfg.Scheduler.SlotTableSize,
		MaxModules:      cfg.Scheduler.MaxModules,
		OpenEndedRepeat: cfg.Scheduler.OpenEndedRepeat,
		Now:             time.Now,
	}, client, tracker, log)

	env := modules.Env{Sched: ctrl, Pub: client, Topics: topics, Now: time.Now, Log: log}
	inputs, err := register(ctrl, env, cfg, dev, pins.NewRegistry(log.Named("pins")))
	if err != nil {
		return fmt.Errorf("register modules: %w", err)
	}
	if err := ctrl.Boot(); err != nil {
		// modules that failed to initialise stay registered; their commands fail
		log.Error("boot", zap.Error(err))
	}

	msgs := make(chan message, 64)
	if err := client.Subscribe(topics.Commands, enqueue(msgs, log)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	tracker.SetMQTTConnected(client.IsConnected())
	startup := mqtt.SystemEvent{
		Timestamp:  time.Now(),
		Event:      "STARTUP",
		Session:    session,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "STARTUP", ""),
	}
	if err := client.PublishSystem(startup); err != nil {
		log.Warn("publish startup event", zap.Error(err))
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", zap.String("addr", cfg.HTTP.Addr))
	}

	log.Info("started",
		zap.String("name", cfg.Name),
		zap.String("session", session),
		zap.Duration("poll", cfg.Poll),
		zap.String("broker", cfg.MQTT.Broker),
		zap.Duration("heartbeat", cfg.Heartbeat))

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	poll := time.NewTicker(cfg.Poll)
	defer poll.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		ctrl:      ctrl,
		inputs:    inputs,
		client:    client,
		conn:      client,
		tracker:   tracker,
		heartbeat: cfg.Heartbeat,
		session:   session,
		now:       time.Now,
		log:       log,
	}, tick.C, poll.C, msgs, sig)
}

// message is one delivery from the broker, handed to the scheduler goroutine.
type message struct {
	topic   string
	payload []byte
}

// enqueue returns a broker handler that hands deliveries to the loop. The
// broker's callback goroutine never blocks: when the queue is full the
// command is logged and dropped.
func enqueue(msgs chan<- message, log *zap.Logger) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		select {
		case msgs <- message{topic: topic, payload: append([]byte(nil), payload...)}:
		default:
			log.Warn("command dropped, loop busy", zap.String("topic", topic), zap.ByteString("payload", payload))
		}
	}
}

type loopDeps struct {
	ctrl      *controller.Controller
	inputs    *binin.Module // nil when binary inputs are disabled
	client    mqtt.Client
	conn      mqtt.ConnectionStatus
	tracker   *status.Tracker
	heartbeat time.Duration
	session   string
	now       func() time.Time
	log       *zap.Logger
}

// runLoop owns the scheduler. Broker deliveries, the one-second timer tick and
// the input poll are all handled here, one at a time.
func runLoop(d loopDeps, tick, poll <-chan time.Time, msgs <-chan message, sig <-chan os.Signal) error {
	hb := logic.NewHeartbeat(d.now())

	for {
		select {
		case s := <-sig:
			d.log.Info("shutting down", zap.Stringer("signal", s))
			reason := "UNKNOWN"
			switch s {
			case syscall.SIGINT:
				reason = "SIGINT"
			case syscall.SIGTERM:
				reason = "SIGTERM"
			}
			if err := d.ctrl.Shutdown(); err != nil {
				d.log.Error("reset slots", zap.Error(err))
			}
			d.publishSystem("SHUTDOWN", reason, d.now())
			return nil

		case m := <-msgs:
			d.ctrl.HandleMessage(m.topic, m.payload)

		case <-tick:
			d.ctrl.Tick()
			now := d.now()
			if data := hb.Check(now, d.heartbeat); data != nil {
				d.log.Info("heartbeat", zap.Duration("uptime", data.Uptime))
				d.publishSystem("HEARTBEAT", "", data.Timestamp)
			}

		case <-poll:
			if d.inputs == nil {
				continue
			}
			d.inputs.Poll(d.now())
			if d.tracker != nil {
				d.tracker.SetInputs(d.inputs.States())
			}
		}
	}
}

func (d loopDeps) publishSystem(event, reason string, at time.Time) {
	ev := mqtt.SystemEvent{
		Timestamp: at,
		Event:     event,
		Reason:    reason,
		Session:   d.session,
		Retained:  event != "HEARTBEAT",
	}
	if d.tracker != nil {
		if d.conn != nil {
			d.tracker.SetMQTTConnected(d.conn.IsConnected())
		}
		ev.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), event, reason)
	}
	if err := d.client.PublishSystem(ev); err != nil {
		d.log.Warn("publish system event", zap.String("event", event), zap.Error(err))
	}
}

// printInputs prints the raw level of every binary input.
func printInputs(cfg *config.Config) error {
	if !cfg.BinIn.Enabled {
		return errors.New("bin_in is disabled")
	}
	in, err := gpio.NewRealInputs(bank(cfg.BinIn.GPIOBank))
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer in.Close()

	levels, err := in.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	for i, on := range levels {
		fmt.Printf("IN%d (line %d): %s\n", i, cfg.BinIn.Lines[i], stateString(on))
	}
	return nil
}

func stateString(on bool) logic.State {
	if on {
		return logic.StateOpened
	}
	return logic.StateClosed
}
