// Command echoserver runs a standalone tcpmsg server that echoes every
// message it receives and answers sync requests with an uppercased copy of
// the request payload. It exists to give loadtest (and manual testing with
// a TCP client like netcat-for-the-framed-protocol) something to talk to.
package main

import (
	"bytes"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/corewire/tcpmsg"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9100", "address to listen on")
	presharedKey := flag.String("key", "", "require this preshared key from connecting clients")
	idleTimeout := flag.Duration("idle-timeout", 0, "disconnect clients idle longer than this (0 disables)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	srv := tcpmsg.NewServer(*addr, tcpmsg.ServerConfig{
		Session: tcpmsg.SessionConfig{
			PresharedKey: *presharedKey,
			IdleTimeout:  *idleTimeout,
			Logger:       logger,
		},
		Logger: logger,
		Handlers: tcpmsg.Handlers{
			OnMessage: func(s *tcpmsg.Session, header *tcpmsg.Header, payload []byte) {
				logger.WithField("guid", s.GUID()).Infof("echoing %d bytes", len(payload))
				s.SendAsync(&tcpmsg.Header{Status: tcpmsg.StatusNormal}, payload)
			},
			OnSyncRequest: func(s *tcpmsg.Session, header *tcpmsg.Header, payload []byte) ([]byte, map[string]any, error) {
				return bytes.ToUpper(payload), nil, nil
			},
			OnAuthFailed: func(s *tcpmsg.Session) {
				logger.WithField("guid", s.GUID()).Warn("client failed preshared-key auth")
			},
			OnDisconnect: func(s *tcpmsg.Session, reason tcpmsg.DisconnectReason) {
				logger.WithField("guid", s.GUID()).Infof("client disconnected: %s", reason)
			},
		},
	})

	if err := srv.Start(); err != nil {
		logger.WithError(err).Fatal("failed to start server")
	}
	logger.Infof("listening on %s", *addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	if err := srv.Stop(); err != nil {
		logger.WithError(err).Error("error during shutdown")
	}
}
