// Command sysbus-node runs host nodes: identity and module regions in an
// image file, links from the node file, digital outputs on simulated pins.
//
//	sysbus-node -config node.yaml
//	sysbus-node a.yaml b.yaml c.yaml   # several nodes, sharing segments
//
// SIGUSR1 puts every node into identification mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"sysbus-go/config"
)

func main() {
	cfgPath := flag.String("config", "", "node file (yaml); empty uses the host defaults")
	envFile := flag.String("env", ".env", "environment file with SYSBUS_* overrides (single node only)")
	flag.Parse()

	nodes, err := loadNodes(*cfgPath, *envFile, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "sysbus-node:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runners := make([]*runner, 0, len(nodes))
	for i, n := range nodes {
		r, err := newRunner(n)
		if err != nil {
			for _, r := range runners {
				r.close()
			}
			fmt.Fprintf(os.Stderr, "sysbus-node: node %d: %v\n", i, err)
			os.Exit(1)
		}
		runners = append(runners, r)
	}

	usr := make(chan os.Signal, 1)
	signal.Notify(usr, syscall.SIGUSR1)
	defer signal.Stop(usr)
	go func() {
		for range usr {
			for _, r := range runners {
				r.identify()
			}
		}
	}()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.run(ctx)
		}()
	}
	wg.Wait()
	for _, r := range runners {
		r.close()
	}
}

func loadNodes(cfgPath, envFile string, files []string) ([]config.Node, error) {
	if len(files) == 0 {
		n, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		if err := n.ApplyEnv(envFile); err != nil {
			return nil, err
		}
		return []config.Node{n}, nil
	}
	out := make([]config.Node, 0, len(files))
	for _, f := range files {
		n, err := config.Load(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		out = append(out, n)
	}
	return out, nil
}
