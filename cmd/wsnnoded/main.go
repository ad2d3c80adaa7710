package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wsncoord/clusterengine/engine"
	"github.com/wsncoord/clusterengine/persist"
	"github.com/wsncoord/clusterengine/radio"
	"github.com/wsncoord/clusterengine/timebase"

	_ "net/http/pprof"
)

func doWork(fc FileConfig) error {
	cfg, err := toEngineConfig(fc)
	if err != nil {
		return err
	}

	resolver, err := peerResolver(fc)
	if err != nil {
		return err
	}

	store, err := persist.OpenBoltStore(fc.BoltPath)
	if err != nil {
		return err
	}
	defer store.Close()

	driver, err := radio.NewUDPDriver(radio.UDPDriverConfig{
		SelfAddr:            cfg.Addr,
		ListenPort:          fc.ListenPort,
		BroadcastAddr:       fc.BroadcastAddr,
		Resolver:            resolver,
		AdvertiseIntervalMs: fc.BeaconIntervalMs,
		AdvertiseOffsetMs:   fc.BeaconOffsetMs,
		SimulatedRSSIdBm:    fc.SimulatedRSSIdBm,
	})
	if err != nil {
		return err
	}

	e := engine.New(cfg, timebase.New(), store, driver)

	stats, err := engine.NewSelfStats()
	if err != nil {
		log.Warningf("wsnnoded: self-process stats unavailable: %v", err)
	} else {
		stop := make(chan struct{})
		go stats.RunForever(10*time.Second, stop)
		defer close(stop)
	}

	exporter := engine.NewPromExporter(e)
	go exporter.Start(fc.MonitoringPort, 5*time.Second)

	admin := engine.NewAdminServer(e)
	go func() {
		if err := admin.Start(fc.AdminAddr); err != nil {
			log.Errorf("wsnnoded: admin console stopped: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return e.Run(ctx)
}

func main() {
	var (
		verboseFlag        bool
		configFlag         string
		monitoringPortFlag int
		pprofFlag          string
	)

	flag.BoolVar(&verboseFlag, "verbose", false, "verbose output")
	flag.StringVar(&configFlag, "config", "", "path to the node config file")
	flag.IntVar(&monitoringPortFlag, "monitoringport", 0, "port to serve /metrics on (overrides config)")
	flag.StringVar(&pprofFlag, "pprof", "", "address to have the profiler listen on, disabled if empty")
	flag.Parse()

	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	if configFlag == "" {
		log.Fatal("wsnnoded: -config is required")
	}
	fc, err := ReadFileConfig(configFlag)
	if err != nil {
		log.Fatal(err)
	}
	if monitoringPortFlag != 0 {
		fc.MonitoringPort = monitoringPortFlag
	}

	if pprofFlag != "" {
		go func() {
			if err := http.ListenAndServe(pprofFlag, nil); err != nil {
				log.Errorf("wsnnoded: pprof listener failed: %v", err)
			}
		}()
	}

	if err := doWork(fc); err != nil {
		log.Fatal(err)
	}
}
