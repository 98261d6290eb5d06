// Command oscqueryctl is an OSCQuery client/inspector: it mirrors a
// remote node's tree and can dump it as JSON (spec.md §4.4, client
// side).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/WPN214/wpn114network/internal/discovery"
	"github.com/WPN214/wpn114network/internal/protocol"
	"github.com/WPN214/wpn114network/internal/tree"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("oscqueryctl exiting")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "oscqueryctl",
		Short: "inspect and mirror a remote OSCQuery node",
	}
	root.AddCommand(newDialCmd())
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newDumpCmd())
	return root
}

// newDialCmd implements "dial <addr>": connect to a fixed host:port and
// keep the mirror running until interrupted.
func newDialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dial <host:port>",
		Short: "run a client against a fixed host:port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := splitAddr(args[0])
			if err != nil {
				return err
			}
			t := tree.New()
			c := protocol.NewClient(t)
			if err := c.Dial(host, port); err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer c.Close()
			select {} // run until killed; a future iteration wires Ctrl-C handling
		},
	}
}

// newDiscoverCmd implements "discover <service-name>": resolve a node
// via zc:// DNS-SD discovery, then dial it.
func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <service-name>",
		Short: "run a client via zc:// discovery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			svc, err := discovery.FindOnce(ctx, discovery.New(), args[0])
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			logrus.WithFields(logrus.Fields{"host": svc.Host, "port": svc.Port}).Info("target acquired")

			t := tree.New()
			c := protocol.NewClient(t)
			if err := c.Dial(svc.Host, svc.Port); err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer c.Close()
			select {}
		},
	}
}

// newDumpCmd implements "dump": connect, wait briefly for the namespace
// tree to populate, print it as JSON, exit.
func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <host:port>",
		Short: "connect, print the mirrored tree as JSON, exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := splitAddr(args[0])
			if err != nil {
				return err
			}
			t := tree.New()
			c := protocol.NewClient(t)
			if err := c.Dial(host, port); err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer c.Close()

			time.Sleep(500 * time.Millisecond)

			raw, err := c.Query("/")
			if err != nil {
				return err
			}
			var pretty interface{}
			if err := json.Unmarshal(raw, &pretty); err != nil {
				return err
			}
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func splitAddr(addr string) (string, int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("oscqueryctl: address %q must be host:port", addr)
	}
	host := addr[:idx]
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("oscqueryctl: invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}
