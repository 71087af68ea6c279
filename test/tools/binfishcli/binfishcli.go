package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	jsoniter "github.com/json-iterator/go"
	binfish "github.com/kayac/Binfish"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {

	var (
		port    int
		host    string
		count   int
		message string
		badge   int
		sound   string
		link    string
		expiry  uint
		token   string
		track   string
	)

	flag.IntVar(&count, "count", 1, "send count")
	flag.IntVar(&port, "port", 8003, "binfish port")
	flag.StringVar(&host, "host", "localhost", "binfish host")
	flag.StringVar(&message, "message", "test notification", "push notification message")
	flag.IntVar(&badge, "badge", 0, "badge number")
	flag.StringVar(&sound, "sound", "default", "push notification sound (default: 'default')")
	flag.StringVar(&link, "link", "", "link opened by the notification")
	flag.UintVar(&expiry, "expiry", 0, "expiry as unix time (0: do not store)")
	flag.StringVar(&token, "token", "", "device token, 64 hex characters (required)")
	flag.StringVar(&track, "tracking-token", "", "tracking token prefix")

	flag.Parse()

	if token == "" {
		flag.Usage()
		os.Exit(2)
	}

	log.Printf("host: %s, port: %d, send count: %d", host, port, count)

	ps := make([]binfish.PostedData, count)
	for i := range ps {
		ps[i] = binfish.PostedData{
			Token:  token,
			Alert:  message,
			Badge:  badge,
			Sound:  sound,
			Link:   link,
			Expiry: uint32(expiry),
		}
		if track != "" {
			ps[i].TrackingToken = fmt.Sprintf("%s-%d", track, i)
		}
	}

	b := &bytes.Buffer{}
	if err := json.NewEncoder(b).Encode(ps); err != nil {
		log.Println(err)
		os.Exit(1)
	}
	log.Println("post data:", b.String())

	endpoint := fmt.Sprintf("http://%s:%d/push/apns", host, port)
	req, err := http.NewRequest(http.MethodPost, endpoint, b)
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("content-type", binfish.ApplicationJSON)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("err: %s", err)
		return
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("err: %s", err)
		return
	}
	log.Println("resp:", resp.Status, string(out))
}
