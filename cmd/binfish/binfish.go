package main

import (
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"strconv"

	binfish "github.com/kayac/Binfish"
	"github.com/kayac/Binfish/apns"
	"github.com/kayac/Binfish/config"
	"github.com/sirupsen/logrus"
)

var version string

func main() {
	var (
		confPath    string
		environment string
		logFormat   string
		port        int
		enablePprof bool
		showVersion bool
		logLevel    string
	)

	flag.StringVar(&confPath, "config", "/etc/binfish/config.toml", "specify config file.")
	flag.StringVar(&confPath, "c", "/etc/binfish/config.toml", "specify config file.")
	flag.StringVar(&environment, "environment", "production", "APNs environment. (production, sandbox, or test)")
	flag.StringVar(&environment, "E", "production", "APNs environment. (production, sandbox, or test)")
	flag.IntVar(&port, "port", 0, "Binfish port number (range 1024-65535).")
	flag.StringVar(&logFormat, "log-format", "", "specifies the log format: ltsv or json.")
	flag.BoolVar(&enablePprof, "enable-pprof", false, "serve pprof on a random local port.")
	flag.BoolVar(&showVersion, "v", false, "show version number.")
	flag.BoolVar(&showVersion, "version", false, "show version number.")
	flag.BoolVar(&binfish.OutputHookStdout, "output-hook-stdout", false, "merge stdout of hook command to binfish's stdout")
	flag.BoolVar(&binfish.OutputHookStderr, "output-hook-stderr", false, "merge stderr of hook command to binfish's stderr")

	flag.StringVar(&logLevel, "log-level", "info", "set the log level (debug, warn, info)")
	flag.Parse()

	if showVersion {
		if version == "" {
			version = binfish.Version
		}
		fmt.Printf("Compiler: %s %s\n", runtime.Compiler, runtime.Version())
		fmt.Printf("Binfish version: %s\n", version)
		return
	}

	initLogrus(logFormat, logLevel)

	c, err := config.LoadConfig(confPath)
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}

	c.Provider.DebugPort = 0
	if port != 0 {
		c.Provider.Port = port // Default port number
	}

	var env binfish.Environment
	switch environment {
	case "production":
		env = binfish.Production
	case "sandbox", "development":
		env = binfish.Sandbox
	case "test":
		env = binfish.Test
		// the mock gateway uses a self signed certificate
		apns.ClientTLSConfig = func(cert tls.Certificate, _ *x509.CertPool, serverName string, _ bool) *tls.Config {
			return &tls.Config{
				Certificates:       []tls.Certificate{cert},
				ServerName:         serverName,
				InsecureSkipVerify: true,
			}
		}
	default:
		logrus.Errorf("Unknown environment: %s. Please look at help.", environment)
		os.Exit(1)
	}

	// for profiling
	if enablePprof {
		mux := http.NewServeMux()
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			logrus.Fatal(err)
		}
		_, p, err := net.SplitHostPort(l.Addr().String())
		if err != nil {
			logrus.Fatal(err)
		}
		dp, err := strconv.Atoi(p)
		if err != nil {
			logrus.Fatal(err)
		}
		logrus.Infof("Debug port (pprof) is %d.", dp)
		c.Provider.DebugPort = dp

		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/", pprof.Index)

		go func() {
			logrus.Fatal(http.Serve(l, mux))
		}()
	}

	binfish.StartServer(c, env)
}

func initLogrus(format string, logLevel string) {
	switch format {
	case "ltsv":
		logrus.SetFormatter(&binfish.LtsvFormatter{})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	logrus.SetLevel(lvl)
}
