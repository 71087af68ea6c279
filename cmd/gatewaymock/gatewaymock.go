package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kayac/Binfish/config"
	"github.com/kayac/Binfish/mock"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		port              int
		certFile, keyFile string
		passphrase        string
		closeOnError      bool
		verbose           bool
	)

	flag.IntVar(&port, "port", 2195, "gateway mock server port")
	flag.StringVar(&certFile, "cert-file", "./test/server.crt", "gateway mock server cert file")
	flag.StringVar(&keyFile, "key-file", "./test/server.key", "gateway mock server key file")
	flag.StringVar(&passphrase, "passphrase", "", "passphrase of the key file")
	flag.BoolVar(&closeOnError, "close-on-error", true, "close the connection after an error record")
	flag.BoolVar(&verbose, "verbose", false, "verbose flag")
	flag.Parse()

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cert, err := config.LoadCertificate(certFile, keyFile, passphrase)
	if err != nil {
		logrus.Fatal(err)
	}

	srv := mock.NewGatewayServer()
	srv.CloseOnError = closeOnError
	if err := srv.ListenAndServe(fmt.Sprintf(":%d", port), cert); err != nil {
		logrus.Fatal(err)
	}
	logrus.Infof("start gateway mock server on %s", srv.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	srv.Close()
	logrus.WithFields(logrus.Fields{
		"accepted": len(srv.Accepted()),
		"rejected": len(srv.Rejected()),
		"dropped":  len(srv.Dropped()),
	}).Info("stopped gateway mock server")
}
