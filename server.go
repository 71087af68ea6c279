package binfish

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	stats_api "github.com/fukata/golang-stats-api-handler"
	"github.com/kayac/Binfish/config"
	"github.com/lestrrat-go/server-starter/listener"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// Provider defines Binfish httpHandler and has a state
// of queue which is shared by the supervisor.
type Provider struct {
	Sup *Supervisor
}

// ResponseHandler provides you to implement handling on success or on error response from the gateway.
// Therefore, you can specifies hook command which is set at toml file.
type ResponseHandler interface {
	OnResponse(Result)
	HookCmd() string
}

// DefaultResponseHandler is the default ResponseHandler if not specified.
type DefaultResponseHandler struct {
	Hook string
}

// OnResponse is performed for every notification of a delivered batch.
func (rh DefaultResponseHandler) OnResponse(result Result) {
}

// HookCmd returns hook command to execute only for failed notifications.
func (rh DefaultResponseHandler) HookCmd() string {
	return rh.Hook
}

// ApplyEnvironment points the gateway configuration at the endpoint of env.
func ApplyEnvironment(conf *config.Config, env Environment) {
	switch env {
	case Production:
		conf.Apns.Sandbox = false
	case Sandbox:
		conf.Apns.Sandbox = true
	case Test:
		if conf.Apns.Host == "" {
			conf.Apns.Host = MockGateway
		}
	}
}

// StartServer starts a binary APNs provider server on http.
func StartServer(conf config.Config, env Environment) {
	// Init Provider
	srvStats = NewStats(conf)
	prov := &Provider{}

	srvStats.DebugPort = conf.Provider.DebugPort
	LogWithFields(logrus.Fields{
		"type": "provider",
	}).Infof("Size of POST request queue is %d", conf.Provider.QueueSize)

	ApplyEnvironment(&conf, env)

	// start supervisor
	sup, err := StartSupervisor(&conf)
	if err != nil {
		LogWithFields(logrus.Fields{
			"type": "provider",
		}).Fatalf("Failed to start Binfish: %s", err.Error())
	}
	prov.Sup = sup

	LogWithFields(logrus.Fields{
		"type": "supervisor",
	}).Infof("Starts supervisor at %s", env.String())

	// StartServer listener
	listeners, err := listener.ListenAll()
	if err != nil {
		LogWithFields(logrus.Fields{
			"type": "provider",
		}).Infof("%s. If you want graceful to restart Binfish, you should use 'start_server' (github.com/lestrrat-go/server-starter).", err)
	}

	// Start binfish provider server
	var lis net.Listener
	if err == listener.ErrNoListeningTarget {
		// Fallback if not running under ServerStarter
		service := fmt.Sprintf(":%d", conf.Provider.Port)
		lis, err = net.Listen("tcp", service)
		if err != nil {
			LogWithFields(logrus.Fields{
				"type": "provider",
			}).Error(err)
			sup.Shutdown()
			return
		}
	} else {
		if l, ok := listeners[0].Addr().(*net.TCPAddr); ok && l.Port != conf.Provider.Port {
			LogWithFields(logrus.Fields{
				"type": "provider",
			}).Infof("'start_server' starts on :%d", l.Port)
		}
		// Starts Binfish under ServerStarter.
		conf.Provider.Port = listeners[0].Addr().(*net.TCPAddr).Port
		lis = listeners[0]
	}

	// If many connections establishs between Binfish provider and your application,
	// Binfish provider would be overload, and decrease performance.
	if conf.Provider.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, conf.Provider.MaxConnections)
	}

	// Start Binfish provider
	LogWithFields(logrus.Fields{
		"type": "provider",
	}).Infof("Starts provider on :%d ...", conf.Provider.Port)

	srv := &http.Server{Handler: prov.Mux()}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			LogWithFields(logrus.Fields{}).Error(err)
		}
		wg.Done()
	}()

	// signal handling
	wg.Add(1)
	go startSignalReciever(&wg, srv)

	// wait for server shutdown complete
	wg.Wait()

	LogWithFields(logrus.Fields{
		"type": "provider",
	}).Info("Stopping server")

	// if Binfish server stop, Close queue
	sup.Shutdown()
}

// Mux routes the endpoints of the provider.
func (prov *Provider) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/push/apns", prov.PushAPNsHandler())
	mux.HandleFunc("/stats/app", prov.StatsHandler())
	mux.HandleFunc("/stats/profile", stats_api.Handler)
	mux.Handle("/metrics", prov.Sup.Metrics().Handler())
	return mux
}

// PushAPNsHandler accepts a list of notifications as one batch.
func (prov *Provider) PushAPNsHandler() http.HandlerFunc {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		atomic.AddInt64(&(srvStats.RequestCount), 1)
		status := prov.pushAPNs(res, req)
		prov.Sup.Metrics().RequestsTotal.WithLabelValues(fmt.Sprint(status)).Inc()
	})
}

func (prov *Provider) pushAPNs(res http.ResponseWriter, req *http.Request) int {
	// Method Not Alllowed
	if err := validateMethod(res, req); err != nil {
		logrus.Warn(err)
		return http.StatusMethodNotAllowed
	}

	// Parse request body
	c := req.Header.Get("Content-Type")
	var ps []PostedData
	switch c {
	case ApplicationXW3FormURLEncoded:
		body := req.FormValue("json")
		if err := json.Unmarshal([]byte(body), &ps); err != nil {
			LogWithFields(logrus.Fields{}).Warnf("%s: %s", err, body)
			return writeReason(res, http.StatusBadRequest, err.Error())
		}
	case ApplicationJSON:
		decoder := json.NewDecoder(req.Body)
		if err := decoder.Decode(&ps); err != nil {
			LogWithFields(logrus.Fields{}).Warnf("%s: %v", err, ps)
			return writeReason(res, http.StatusBadRequest, err.Error())
		}
	default:
		// Unsupported Media Type
		logrus.Warnf("Unsupported Media Type: %s", c)
		return writeReason(res, http.StatusUnsupportedMediaType, "Unsupported Media Type")
	}

	// Validates posted data
	if err := validatePostedData(ps); err != nil {
		return writeReason(res, http.StatusBadRequest, err.Error())
	}

	r, err := NewRequest(ps)
	if err != nil {
		return writeReason(res, http.StatusBadRequest, err.Error())
	}

	// enqueues one request into supervisor's queue.
	if err := prov.Sup.EnqueueClientRequest(r); err != nil {
		setRetryAfter(res, req, err.Error())
		return http.StatusServiceUnavailable
	}

	// success
	res.Header().Set("Content-Type", ApplicationJSON)
	res.WriteHeader(http.StatusOK)
	fmt.Fprintf(res, `{"result":"ok","request_id":"%s"}`, r.ID)
	return http.StatusOK
}

func writeReason(res http.ResponseWriter, code int, reason string) int {
	b, _ := json.Marshal(map[string]string{"reason": reason})
	res.Header().Set("Content-Type", ApplicationJSON)
	res.WriteHeader(code)
	res.Write(b)
	return code
}

func validateMethod(res http.ResponseWriter, req *http.Request) error {
	if req.Method != "POST" {
		writeReason(res, http.StatusMethodNotAllowed, "Method Not Allowed.")
		return fmt.Errorf("Method Not Allowed: %s", req.Method)
	}
	return nil
}

func setRetryAfter(res http.ResponseWriter, req *http.Request, reason string) {
	now := time.Now().Unix()
	prev := atomic.SwapInt64(&(srvStats.ServiceUnavailableAt), now)
	updateRetryAfterStat(now - prev)
	// Retry-After is set seconds
	res.Header().Set("Retry-After", fmt.Sprintf("%d", atomic.LoadInt64(&(srvStats.RetryAfter))))
	writeReason(res, http.StatusServiceUnavailable, reason)
}

// StatsHandler serves the counters of the provider as JSON.
func (prov *Provider) StatsHandler() http.HandlerFunc {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		if ok := validateStatsHandler(res, req); !ok {
			return
		}

		atomic.StoreInt64(&(srvStats.QueueSize), int64(len(prov.Sup.queue)))
		atomic.StoreInt64(&(srvStats.CommandQueueSize), int64(len(prov.Sup.cmdq)))
		b, err := json.Marshal(srvStats.GetStats())
		if err != nil {
			writeReason(res, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		res.Header().Set("Content-Type", ApplicationJSON)
		res.WriteHeader(http.StatusOK)
		res.Write(b)
	})
}

func validatePostedData(ps []PostedData) error {
	if len(ps) == 0 {
		return fmt.Errorf("PostedData must not be empty: %v", ps)
	}

	if len(ps) > config.MaxRequestSize {
		return fmt.Errorf("PostedData was too long. Be less than %d: %v", config.MaxRequestSize, len(ps))
	}

	for _, p := range ps {
		if p.Token == "" {
			return fmt.Errorf("PostedData format was malformed: %+v", p)
		}
	}
	return nil
}

func validateStatsHandler(res http.ResponseWriter, req *http.Request) bool {
	// Method Not Alllowed
	if req.Method != "GET" {
		writeReason(res, http.StatusMethodNotAllowed, "Method Not Allowed.")
		logrus.Warnf("Method Not Allowed: %s", req.Method)
		return false
	}

	return true
}

func startSignalReciever(wg *sync.WaitGroup, srv *http.Server) {
	defer wg.Done()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	s := <-sigChan
	switch s {
	case syscall.SIGHUP:
		LogWithFields(logrus.Fields{
			"type": "provider",
		}).Info("Binfish recieved SIGHUP signal.")
	case syscall.SIGTERM:
		LogWithFields(logrus.Fields{
			"type": "provider",
		}).Info("Binfish recieved SIGTERM signal.")
	case syscall.SIGINT:
		LogWithFields(logrus.Fields{
			"type": "provider",
		}).Info("Binfish recieved SIGINT signal. Stopping server now...")
	}
	srv.Shutdown(context.Background())
}

func updateRetryAfterStat(x int64) {
	var nxtRA int64
	if x > int64(ResetRetryAfterSecond/time.Second) {
		nxtRA = int64(RetryAfterSecond / time.Second)
	} else {
		a := int64(math.Log(float64(10/(x+1) + 1)))
		if cur := atomic.LoadInt64(&(srvStats.RetryAfter)); cur+2*a < int64(ResetRetryAfterSecond/time.Second) {
			nxtRA = cur + 2*a
		} else {
			nxtRA = int64(ResetRetryAfterSecond / time.Second)
		}
	}

	atomic.StoreInt64(&(srvStats.RetryAfter), nxtRA)
}
