// Command parsec-agentd is the composition root wiring a device's local
// configuration, certificate store, manifest validator, and workspace-history
// cache into one running process, grounded on cmd/warren/main.go's
// construction order and signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/parsec-cloud/parsec-client-go/pkg/certops"
	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/config"
	"github.com/parsec-cloud/parsec-client-go/pkg/history"
	"github.com/parsec-cloud/parsec-client-go/pkg/historyops"
	"github.com/parsec-cloud/parsec-client-go/pkg/metrics"
	"github.com/parsec-cloud/parsec-client-go/pkg/plog"
	"github.com/parsec-cloud/parsec-client-go/pkg/storage"
	"github.com/parsec-cloud/parsec-client-go/pkg/transport/inmemory"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
	"github.com/parsec-cloud/parsec-client-go/pkg/validator"
)

var (
	configPath  = flag.String("config", "", "path to the device's YAML config file")
	metricsAddr = flag.String("metrics-addr", "127.0.0.1:9090", "address the metrics/health endpoint listens on")
	logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON     = flag.Bool("log-json", true, "output logs in JSON format")
	pollEvery   = flag.Duration("poll-interval", 10*time.Second, "how often to poll the server for new certificates")
)

func main() {
	flag.Parse()

	plog.Init(plog.Config{Level: plog.Level(*logLevel), JSONOutput: *logJSON})
	log := plog.WithComponent("agentd")

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "agentd: -config is required")
		os.Exit(1)
	}

	if err := run(log); err != nil {
		log.Error().Err(err).Msg("agentd exited with an error")
		os.Exit(1)
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("agentd: load config: %w", err)
	}

	identity, err := config.EnsureDeviceIdentity(cfg.DataBaseDir, cfg.UserID, cfg.OrganizationID)
	if err != nil {
		return fmt.Errorf("agentd: ensure device identity: %w", err)
	}
	log.Info().
		Str("device_id", identity.DeviceID.String()).
		Str("organization_id", identity.OrganizationID.String()).
		Msg("device identity ready")

	kv, err := storage.Open(cfg.DataBaseDir, identity.DeviceID.String())
	if err != nil {
		return fmt.Errorf("agentd: open local store: %w", err)
	}
	defer kv.Close()

	certs := certstore.New(kv, identity.AtRestKey, identity.RootVerifyKey, nil)

	// The real multi-device, multi-party server this device talks to is an
	// external collaborator (spec §1 non-goal). This process's own
	// in-process inmemory.Server stands in for it so the daemon has
	// something to poll and write certificates against; a production build
	// swaps in a real network-backed transport.AuthenticatedCmds here.
	srv := inmemory.NewServer()
	cmds := inmemory.NewClient(srv, identity.UserID)

	if err := bootstrapSelf(certs, identity); err != nil {
		return fmt.Errorf("agentd: bootstrap device identity certificates: %w", err)
	}

	ops := certops.New(certs, cmds, identity.DeviceID, identity.UserID, identity.SigningKey, nil)
	v := validator.New(certs, cmds, nil, identity.WrapKey, nil)
	ops = ops.WithValidator(v)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	realm, err := ops.BootstrapWorkspace(ctx)
	if err != nil {
		return fmt.Errorf("agentd: bootstrap workspace: %w", err)
	}
	log.Info().Str("realm_id", realm.String()).Msg("workspace realm ready")

	histOps := historyops.New(history.NewStore(), cmds, ops, realm, nil)
	_ = histOps // wired and ready for workspace-history requests; no standing business logic here.

	metrics.RegisterComponent("certstore", true, "")
	metrics.RegisterComponent("transport", true, "")
	metrics.RegisterComponent("history", true, "")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	log.Info().Str("addr", *metricsAddr).Msg("metrics endpoint listening")

	pollDone := make(chan struct{})
	go pollLoop(ctx, ops, log, pollDone)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("component failed")
	}

	cancel()
	<-pollDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("agentd: shutdown metrics server: %w", err)
	}
	return nil
}

// pollLoop runs PollServerForNewCertificates (spec §6.1) on a fixed
// interval until ctx is canceled, closing done once it has stopped.
func pollLoop(ctx context.Context, ops *certops.CertificateOps, log zerolog.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(*pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ops.PollServerForNewCertificates(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("poll for new certificates failed")
				metrics.UpdateComponent("transport", false, err.Error())
				continue
			}
			metrics.UpdateComponent("transport", true, "")
			if n > 0 {
				log.Info().Int("applied", n).Msg("ingested new certificates")
			}
		}
	}
}

// bootstrapSelf self-issues this device's own User and Device certificates
// the first time it runs against an empty store. Real enrollment
// (bootstrap_organization/claim_device, spec §6.4) is out of scope; this
// device's signing key also serves as the organization's root of trust (see
// pkg/config's DESIGN.md entry), so it can author its own identity.
func bootstrapSelf(certs *certstore.Store, identity *config.DeviceIdentity) error {
	cursors, err := certs.LastTimestamps()
	if err != nil {
		return err
	}
	if cursors.Common != nil {
		return nil // already bootstrapped on a prior run
	}

	base := time.Now().UTC()
	userCert := types.Certificate{
		Kind:      types.CertUser,
		Author:    types.RootAuthor(),
		Timestamp: base,
		Payload: types.UserCertificate{
			UserID:      identity.UserID,
			HumanHandle: types.HumanHandle{Email: fmt.Sprintf("%s@%s", identity.UserID, identity.OrganizationID), Label: identity.UserID.String()},
			PublicKey:   identity.SigningKey.VerifyKey().Bytes(),
			Profile:     types.ProfileAdmin,
		},
	}
	deviceCert := types.Certificate{
		Kind:      types.CertDevice,
		Author:    types.RootAuthor(),
		Timestamp: base.Add(time.Microsecond),
		Payload: types.DeviceCertificate{
			DeviceID:    identity.DeviceID,
			UserID:      identity.UserID,
			DeviceLabel: "agentd",
			VerifyKey:   identity.SigningKey.VerifyKey().Bytes(),
		},
	}

	sign := func(cert types.Certificate) (certstore.SignedCertificate, error) {
		b, err := certstore.SigningBytes(cert)
		if err != nil {
			return certstore.SignedCertificate{}, err
		}
		return certstore.SignedCertificate{Cert: cert, Signature: identity.SigningKey.Sign(b)}, nil
	}

	signedUser, err := sign(userCert)
	if err != nil {
		return err
	}
	signedDevice, err := sign(deviceCert)
	if err != nil {
		return err
	}
	_, err = certs.AddBatch(certstore.Batch{types.TopicCommon: {signedUser, signedDevice}})
	return err
}
