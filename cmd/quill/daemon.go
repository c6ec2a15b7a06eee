package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	quill "github.com/tannerhall/quill"
)

func daemonCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Refresh due feeds in a loop with a configurable interval",
		Long: `Continuously refresh due feeds on a timer. Designed for running as a
background service. Handles SIGINT/SIGTERM for graceful shutdown
(finishes the current cycle).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if !cmd.Flags().Changed("interval") && cfg.Refresh.IntervalMinutes > 0 {
				interval = time.Duration(cfg.Refresh.IntervalMinutes) * time.Minute
			}

			stop := make(chan struct{})
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				log.Info("received shutdown signal, finishing current cycle")
				close(stop)
			}()

			go logEvents(engine)

			log.WithField("interval", interval).Info("daemon starting")
			engine.StartRefreshLoop(interval, stop)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 10*time.Minute, "duration between refresh cycles (e.g. 5m, 1h)")
	return cmd
}

// logEvents drains the engine's per-feed refresh events for the log.
func logEvents(engine *quill.Engine) {
	for ev := range engine.Events() {
		fields := log.Fields{"feed_id": ev.FeedID, "title": ev.Title}
		if ev.Err != nil {
			log.WithFields(fields).Warnf("feed refresh failed: %v", ev.Err)
			continue
		}
		if ev.NewPosts > 0 {
			log.WithFields(fields).WithField("new_posts", ev.NewPosts).Info("feed refreshed")
		}
	}
}
