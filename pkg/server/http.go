package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"task-execution-service/pkg/config"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

// Server serves the gin engine. With TLS enabled the key pair is read on
// start and re-read whenever either file changes on disk.
type Server struct {
	http *http.Server

	certPath, keyPath string
	mu                sync.RWMutex
	cert              *tls.Certificate

	stopWatch chan struct{}
	watchDone chan struct{}
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *gin.Engine
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config
	s := &Server{
		http: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      p.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	if !cfg.TLS.Enable {
		return s, nil
	}

	s.certPath, s.keyPath = cfg.TLS.CertPath, cfg.TLS.KeyPath
	if err := s.loadCert(); err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	s.http.TLSConfig = &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.getCertificate,
	}
	return s, nil
}

func (s *Server) tlsEnabled() bool {
	return s.http.TLSConfig != nil
}

func (s *Server) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cert == nil {
		return nil, errors.New("no TLS certificate loaded")
	}
	return s.cert, nil
}

func (s *Server) loadCert() error {
	cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cert = &cert
	s.mu.Unlock()
	return nil
}

// watchCert reloads the key pair on file changes until stopWatch is closed.
// A failed reload keeps serving the previous certificate.
func (s *Server) watchCert() {
	defer close(s.watchDone)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.L().Error("[HTTP] TLS reload disabled", zap.Error(err))
		return
	}
	defer watcher.Close()

	for _, path := range []string{s.certPath, s.keyPath} {
		if err := watcher.Add(path); err != nil {
			zap.L().Warn("[HTTP] cannot watch TLS file", zap.String("path", path), zap.Error(err))
		}
	}

	for {
		select {
		case <-s.stopWatch:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// secrets mounted by kubelet are swapped by rename, which drops the watch
			if ev.Has(fsnotify.Rename) {
				_ = watcher.Add(ev.Name)
			}
			if err := s.loadCert(); err != nil {
				zap.L().Error("[HTTP] TLS reload failed, keeping previous certificate", zap.Error(err))
				continue
			}
			zap.L().Info("[HTTP] TLS certificate reloaded", zap.String("file", ev.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("[HTTP] TLS watcher error", zap.Error(err))
		}
	}
}

func (s *Server) serve() {
	zap.L().Info("[HTTP] Listening", zap.String("addr", s.http.Addr), zap.Bool("tls", s.tlsEnabled()))

	var err error
	if s.tlsEnabled() {
		// certificates come from GetCertificate
		err = s.http.ListenAndServeTLS("", "")
	} else {
		err = s.http.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.L().Fatal("[HTTP] Server failed", zap.Error(err))
	}
}

func Run(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if s.tlsEnabled() {
				s.stopWatch = make(chan struct{})
				s.watchDone = make(chan struct{})
				go s.watchCert()
			}
			go s.serve()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("[HTTP] Shutting down")
			if s.stopWatch != nil {
				close(s.stopWatch)
				<-s.watchDone
			}
			return s.http.Shutdown(ctx)
		},
	})
}
