// Command excored runs the ActiveSync-compatible mail server: the EAS
// HTTP engine (Sync, FolderSync, Provision, Ping, Settings, Options,
// Autodiscover) and the SMTP ingest listeners, sharing one storage backend
// and change bus, started and stopped in dependency order per spec.md §9.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/exchangecore/excore/eas"
	"github.com/exchangecore/excore/eas/autodiscover"
	"github.com/exchangecore/excore/internal/auth"
	"github.com/exchangecore/excore/internal/changebus"
	"github.com/exchangecore/excore/internal/config"
	"github.com/exchangecore/excore/internal/deviceapi"
	"github.com/exchangecore/excore/internal/httputil"
	"github.com/exchangecore/excore/internal/logging"
	"github.com/exchangecore/excore/internal/metrics"
	"github.com/exchangecore/excore/internal/process"
	"github.com/exchangecore/excore/internal/smtp"
	"github.com/exchangecore/excore/internal/store"
	"github.com/exchangecore/excore/internal/wbxml"
)

func main() {
	configPath := flag.String("config", "", "path to excored.yaml")
	httpAddr := flag.String("http", ":443", "EAS HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("excored: load config")
	}
	logging.Setup(cfg.Logging.Level)
	metrics.Register()

	db, err := store.Open(cfg.Database.ConnectionString, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.WithError(err).Fatal("excored: open storage")
	}
	defer db.Close()

	bus, err := changebus.Start()
	if err != nil {
		log.WithError(err).Fatal("excored: start change bus")
	}
	defer bus.Close()

	proc := process.NewContext()

	smtpServer := smtp.NewServer(db, db, bus, cfg.Global.HostName)
	if err := smtpServer.Serve(proc, smtpListeners(cfg)); err != nil {
		log.WithError(err).Fatal("excored: start smtp listeners")
	}
	defer smtpServer.Close()

	srv := eas.NewServer(eas.Deps{
		Store:          db,
		Bus:            bus,
		Codec:          wbxml.NewCodec(),
		Auth:           auth.NewAuthenticator(db),
		Devices:        deviceapi.NewAPI(db),
		RateLimiter:    httputil.NewRateLimiter(httputil.RateLimitConfig{Enabled: true, Threshold: 60, Cooloff: time.Minute}),
		Autodiscover:   autodiscover.Config{HostName: cfg.Global.HostName},
		RequestTimeout: cfg.EAS.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: srv.Router(),
	}

	proc.Go(func() {
		log.WithField("addr", *httpAddr).Info("excored: eas http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("excored: eas http server stopped")
		}
	})

	waitForSignal()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	smtpServer.Close()

	proc.Shutdown()
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}

func smtpListeners(cfg *config.Config) []smtp.Listener {
	listeners := []smtp.Listener{
		{Addr: cfg.SMTP.MTAAddr},
	}

	var tlsConfig *tls.Config
	if cfg.SMTP.TLSCertPath != "" && cfg.SMTP.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.SMTP.TLSCertPath, cfg.SMTP.TLSKeyPath)
		if err != nil {
			log.WithError(err).Fatal("excored: load smtp tls cert")
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	listeners = append(listeners,
		smtp.Listener{Addr: cfg.SMTP.SubmissionAddr, TLSConfig: tlsConfig},
		smtp.Listener{Addr: cfg.SMTP.ImplicitTLSAddr, TLSConfig: tlsConfig, Implicit: true},
	)
	return listeners
}
