// Package probecli implements the wsprobe subcommands.
package probecli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hidim/TunnelPanda/internal/certs"
	"github.com/hidim/TunnelPanda/internal/config"
	"github.com/hidim/TunnelPanda/internal/events"
	"github.com/hidim/TunnelPanda/internal/logging"
	"github.com/hidim/TunnelPanda/internal/metrics"
	"github.com/hidim/TunnelPanda/internal/probe"
	"github.com/hidim/TunnelPanda/internal/redact"
	"github.com/hidim/TunnelPanda/internal/report"
)

// certExpiryWarning is how close to expiry a certificate gets logged.
const certExpiryWarning = 14 * 24 * time.Hour

type Dependencies struct {
	Out    io.Writer
	Logger *log.Logger
	Getenv func(string) string
	Now    func() time.Time
	// Dialer replaces the WebSocket dialer built from the configuration.
	Dialer probe.Dialer
}

func (d *Dependencies) defaults() {
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.Logger == nil {
		d.Logger = logging.NewWithWriter(d.Out)
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

type runFlags struct {
	config            string
	url               string
	insecure          bool
	allowPlaintext    bool
	caFile            string
	report            string
	metricsFile       string
	messageType       string
	messageData       string
	firstReplyTimeout time.Duration
	listenTimeout     time.Duration
}

// Run executes one probe. The returned error is nil only for an ok outcome;
// otherwise it carries the *probe.Error of the run, or the configuration
// problem that prevented it.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	deps.defaults()

	var f runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(deps.Out)
	fs.StringVar(&f.config, "config", "", "Path to probe configuration file (default $"+config.EnvConfigPath+" or "+config.DefaultConfigPath+")")
	fs.StringVar(&f.url, "url", "", "WebSocket endpoint (wss://host/path)")
	fs.BoolVar(&f.insecure, "insecure", false, "Disable TLS certificate and hostname verification")
	fs.BoolVar(&f.allowPlaintext, "allow-plaintext", false, "Permit ws:// endpoints")
	fs.StringVar(&f.caFile, "ca-file", "", "PEM bundle used instead of the system roots")
	fs.StringVar(&f.report, "report", "", "Write the outcome report to this file (.json, .yaml)")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this file")
	fs.StringVar(&f.messageType, "message-type", "", "Override the message type field")
	fs.StringVar(&f.messageData, "message-data", "", "Override the message data field")
	fs.DurationVar(&f.firstReplyTimeout, "first-reply-timeout", 0, "Wait for the first reply")
	fs.DurationVar(&f.listenTimeout, "listen-timeout", 0, "Quiet period that ends the listen loop")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg, err := config.Resolve(ctx, f.config, deps.Getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "url":
			cfg.Endpoint.URL = f.url
		case "insecure":
			cfg.Transport.InsecureSkipVerify = f.insecure
		case "allow-plaintext":
			cfg.Transport.AllowPlaintext = f.allowPlaintext
		case "ca-file":
			cfg.Transport.CAFile = f.caFile
		case "message-type":
			cfg.Message.Type = f.messageType
		case "message-data":
			cfg.Message.Data = f.messageData
		case "first-reply-timeout":
			cfg.Listen.FirstReplyTimeout = f.firstReplyTimeout
		case "listen-timeout":
			cfg.Listen.ListenTimeout = f.listenTimeout
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return err
	}

	logger := deps.Logger
	if cfg.Transport.ClientCertFile != "" {
		info, err := certs.LoadCertificateInfo(cfg.Transport.ClientCertFile)
		if err != nil {
			return fmt.Errorf("inspect client certificate: %w", err)
		}
		warnExpiry(logger, "client", info, deps.Now())
	}
	logRecorder := events.NewLogRecorder(logger, events.WithFrameRate(cfg.Listen.LogFramesPerSec, 0))
	store := metrics.NewStore()

	prober := probe.New(opts, probe.Dependencies{
		Dialer:   deps.Dialer,
		Recorder: events.NewMulti(logRecorder, store),
		Now:      deps.Now,
	})
	endpoint := probe.NewEndpoint(cfg.Endpoint.URL, probe.Credentials{
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		AppToken: cfg.Auth.AppToken,
		Extra:    cfg.Endpoint.ExtraHeaders,
	})

	outcome := prober.Run(ctx, endpoint, probe.Message{Type: cfg.Message.Type, Data: cfg.Message.Data})

	logRecorder.Flush()
	store.SetLogSuppressed(logRecorder.Suppressed())
	store.ObserveOutcome(string(outcome.Kind), outcome.FirstReplyTimedOut, outcome.HandshakeDuration, outcome.Duration())
	if outcome.TLS != nil {
		warnExpiry(logger, "server", *outcome.TLS, deps.Now())
	}
	snap := store.Snapshot()
	logger.Printf("probe finished: outcome=%s frames=%d received=%s duration=%s",
		outcome.Kind, snap.FramesReceivedTotal, humanize.Bytes(snap.BytesReceivedTotal), outcome.Duration().Round(time.Millisecond))

	var writeErrs []error
	if f.report != "" {
		if err := report.Write(f.report, outcome.Report()); err != nil {
			writeErrs = append(writeErrs, err)
		} else {
			logger.Printf("report written to %s", f.report)
		}
	}
	if f.metricsFile != "" {
		if err := store.WriteFile(f.metricsFile); err != nil {
			writeErrs = append(writeErrs, err)
		}
	}

	return errors.Join(append([]error{outcome.Err}, writeErrs...)...)
}

func warnExpiry(logger *log.Logger, role string, info certs.PeerInfo, now time.Time) {
	if info.ExpiresWithin(now, certExpiryWarning) {
		logger.Printf("warn: %s certificate %s expires %s (%s)",
			role, info.Subject, info.NotAfter.Format(time.RFC3339), humanize.RelTime(info.NotAfter, now, "ago", "from now"))
	}
}

func optionsFromConfig(cfg config.Config) (probe.Options, error) {
	opts := probe.Options{
		InsecureSkipVerify: cfg.Transport.InsecureSkipVerify,
		AllowPlaintext:     cfg.Transport.AllowPlaintext,
		HandshakeTimeout:   cfg.Transport.HandshakeTimeout,
		KeepaliveInterval:  cfg.Transport.KeepaliveInterval,
		KeepaliveTimeout:   cfg.Transport.KeepaliveTimeout,
		CloseTimeout:       cfg.Transport.CloseTimeout,
		FirstReplyTimeout:  cfg.Listen.FirstReplyTimeout,
		ListenTimeout:      cfg.Listen.ListenTimeout,
		ReadLimit:          cfg.Transport.ReadLimit,
	}
	if cfg.Transport.CAFile == "" && cfg.Transport.ClientCertFile == "" {
		return opts, nil
	}
	tlsConfig, err := certs.ClientTLSConfig(certs.ClientOptions{
		ServerURL:          cfg.Endpoint.URL,
		InsecureSkipVerify: cfg.Transport.InsecureSkipVerify,
		CAFile:             cfg.Transport.CAFile,
		CertFile:           cfg.Transport.ClientCertFile,
		KeyFile:            cfg.Transport.ClientKeyFile,
	})
	if err != nil {
		return opts, fmt.Errorf("configure tls: %w", err)
	}
	opts.TLS = tlsConfig
	return opts, nil
}

// Headers prints the handshake headers a run would send, secrets redacted.
func Headers(ctx context.Context, args []string, deps Dependencies) error {
	deps.defaults()

	fs := flag.NewFlagSet("headers", flag.ContinueOnError)
	fs.SetOutput(deps.Out)
	configPath := fs.String("config", "", "Path to probe configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Resolve(ctx, *configPath, deps.Getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	endpoint := probe.NewEndpoint(cfg.Endpoint.URL, probe.Credentials{
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		AppToken: cfg.Auth.AppToken,
		Extra:    cfg.Endpoint.ExtraHeaders,
	})
	header, dropped := probe.HandshakeHeader(endpoint.Header)
	masked := redact.Header(header)

	fmt.Fprintf(deps.Out, "URL: %s\n", printable(redact.URL(endpoint.URL)))
	for _, name := range redact.HeaderNames(header) {
		fmt.Fprintf(deps.Out, "%s: %s\n", name, masked[name])
	}
	if len(dropped) > 0 {
		fmt.Fprintf(deps.Out, "Dropped (generated by the client): %s\n", strings.Join(dropped, ", "))
	}
	return nil
}

func printable(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
