package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/flintdb/flint/conf"
	log "github.com/flintdb/flint/logger"
	"github.com/flintdb/flint/server"
	"github.com/pkg/errors"
)

type arguments struct {
	Config kong.ConfigFlag `help:"Path to config file" type:"existingfile" required:""`
	Server conf.Config     `help:"Server configuration" embed:"" prefix:""`
	Log    log.Config      `help:"Configuration for the logger" embed:"" prefix:"log-"`
}

func logErrorAndExit(msg string) {
	log.Errorf(msg)
	os.Exit(1)
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		logErrorAndExit(err.Error())
	}

	s, err := server.NewServer(cfg.Server)
	if err != nil {
		logErrorAndExit(err.Error())
	}
	if err := s.Start(); err != nil {
		logErrorAndExit(err.Error())
	}

	stopWG := sync.WaitGroup{}
	stopWG.Add(1)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		log.Warnf("signal: %s received. flint server will be closed", sig.String())
		// hard stop if server Stop() hangs
		tz := time.AfterFunc(5*time.Second, func() {
			log.Warnf("server.Stop() did not complete in time. system will exit.")
			os.Exit(1)
		})
		if err := s.Stop(); err != nil {
			log.Warnf("failure in stopping flint server: %v", err)
		}
		tz.Stop()
		stopWG.Done()
	}()

	stopWG.Wait()
	log.Infof("flint server was closed")
}

func loadConfig(args []string) (*arguments, error) {
	cfg := arguments{}
	parser, err := kong.New(&cfg, kong.Configuration(konghcl.Loader))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cfg.Log.Configure(); err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Server.ApplyDefaults()
	return &cfg, nil
}
