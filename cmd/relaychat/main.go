package main

import (
	"flag"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/relaychat/internal/logging"
)

func main() {
	var addr string
	var name string
	flag.StringVar(&addr, "addr", "127.0.0.1:2000", "chat server address")
	flag.StringVar(&name, "name", "", "username to send on connect (prompted by the server otherwise)")
	flag.Parse()

	logging.ConfigureRuntime()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("relaychat dial")
		os.Exit(1)
	}
	app := NewApp(conn, os.Stdin, os.Stdout)
	if err := app.Run(name); err != nil {
		log.Error().Err(err).Msg("relaychat")
		os.Exit(1)
	}
}
