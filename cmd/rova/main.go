/* Copyright 2024 Rova Labs, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rovalabs/rova/bus"
	"github.com/rovalabs/rova/config"
	"github.com/rovalabs/rova/report"
	"github.com/rovalabs/rova/sched"
)

func main() {

	var (
		confFile = flag.String("c", "rova.yaml", "configuration file")
		broker   = flag.String("b", "", "MQTT broker URL (overrides the configuration)")
		runID    = flag.String("run", time.Now().Format("20060102-150405"), "run id for the verdict store")
		verbose  = flag.Bool("v", false, "log lots of wonderful things")
	)

	flag.Parse()

	cfg, err := config.Load(*confFile)
	if err != nil {
		log.Fatalf("config %s: %v", *confFile, err)
	}
	specs, err := cfg.Compile()
	if err != nil {
		log.Fatalf("config %s: %v", *confFile, err)
	}

	mc := cfg.MQTT
	if mc == nil {
		mc = &bus.MQTTConf{}
	}
	if *broker != "" {
		mc.Broker = *broker
	}
	if mc.PresenceTopic == "" {
		// The target node announces itself on its own name.
		mc.PresenceTopic = cfg.Setup.TargetNode
	}

	adapter, err := bus.DialMQTT(mc)
	if err != nil {
		log.Fatalf("broker: %v", err)
	}
	defer adapter.Close()

	collector := report.NewCollector(cfg.Setup.TargetNode)
	reporters := []sched.Reporter{collector}

	var logs *report.LogReporter
	if cfg.Setup.LoggerPath != "" {
		logs, err = report.NewLogReporter(cfg.Setup.LoggerPath, cfg.Setup.TargetNode)
		if err != nil {
			log.Fatalf("logs: %v", err)
		}
		defer logs.Close()
		reporters = append(reporters, logs)
	}

	if cfg.Setup.StorePath != "" {
		store, err := report.OpenStore(cfg.Setup.StorePath, *runID)
		if err != nil {
			log.Fatalf("store: %v", err)
		}
		defer store.Close()
		reporters = append(reporters, store)
	}

	if cfg.Setup.FeedAddr != "" {
		feed := report.NewFeed(cfg.Setup.FeedAddr)
		feed.Start()
		defer feed.Close()
		reporters = append(reporters, feed)
	}

	if cfg.Setup.MetricsAddr != "" {
		metrics := report.NewMetrics()
		srv := metrics.Serve(cfg.Setup.MetricsAddr)
		defer srv.Close()
		reporters = append(reporters, metrics)
	}

	s, err := sched.New(&sched.Conf{
		Heartbeat:     cfg.Setup.HeartbeatInterval(),
		HeartbeatCron: cfg.Setup.SnapshotCron,
		Verbose:       *verbose,
	}, specs, reporters...)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Printf("interrupted; forcing terminal verdicts")
		cancel()
	}()

	log.Printf("monitoring %s (%d specifications)", cfg.Setup.TargetNode, len(specs))
	if err := s.Run(ctx, adapter); err != nil {
		log.Fatalf("run: %v", err)
	}

	summary := collector.Summary()
	if logs != nil {
		if err := logs.WriteSummary(summary); err != nil {
			log.Printf("summary: %v", err)
		}
	}
	os.Stdout.Write(summary.Markdown())

	if n := summary.Passed(); n < len(summary.Verdicts) {
		fmt.Fprintf(os.Stderr, "%d of %d specifications did not pass\n",
			len(summary.Verdicts)-n, len(summary.Verdicts))
		os.Exit(1)
	}
}
