package main

import (
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"pricefeed/internal/exchange"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "pricefeed-client"
	app.Usage = "Prints live prices from a pricefeed server"

	var (
		server string
		pair   string
		venue  string
	)
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "server, s",
			Usage:       "server address",
			Value:       "localhost:8080",
			Destination: &server,
		},
		cli.StringFlag{
			Name:        "pair",
			Usage:       "only print this pair, e.g. BTC/USDT",
			Destination: &pair,
		},
		cli.StringFlag{
			Name:        "exchange",
			Usage:       "only print this exchange",
			Destination: &venue,
		},
	}

	app.Action = func(c *cli.Context) error {
		return stream(server, pair, venue)
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func stream(server, pair, venue string) error {
	q := url.Values{}
	if pair != "" {
		q.Set("pair", pair)
	}
	if venue != "" {
		q.Set("exchange", venue)
	}
	u := url.URL{Scheme: "ws", Host: server, Path: "/ws/prices", RawQuery: q.Encode()}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer conn.Close()
	log.Infof("connected to %s", u.String())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Infof("stream closed: %v", err)
				return
			}
			var update exchange.PriceUpdate
			if err := sonic.Unmarshal(message, &update); err != nil {
				log.Warnf("bad message: %v", err)
				continue
			}
			log.WithFields(log.Fields{
				"exchange": update.Exchange,
				"pair":     update.Pair,
			}).Info(update.Price)
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		<-done
	}
	return nil
}
