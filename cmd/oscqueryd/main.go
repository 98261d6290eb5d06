// Command oscqueryd runs an OSCQuery server node: it owns a parameter
// tree, answers HTTP/WebSocket queries, and streams OSC values to
// subscribed peers (spec.md §4.5).
package main

import (
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/WPN214/wpn114network/internal/config"
	"github.com/WPN214/wpn114network/internal/discovery"
	"github.com/WPN214/wpn114network/internal/protocol"
	"github.com/WPN214/wpn114network/internal/tree"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("oscqueryd exiting")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "oscqueryd",
		Short: "run an OSCQuery server node",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		name       string
		tcpPort    int
		udpPort    int
		rootDir    string
		publish    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a server node from a config file or flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := config.Defaults()
			node, ext := defaults.Node, defaults.Extensions
			if configPath != "" {
				n, e, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				node, ext = n, e
			}
			if name != "" {
				node.Name = name
			}
			if tcpPort != 0 {
				node.Tcp_Port = tcpPort
			}
			if udpPort != 0 {
				node.Udp_Port = udpPort
			}
			if rootDir != "" {
				node.Root_Dir = rootDir
			}
			return runServe(node, ext, publish)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a gcfg config file")
	cmd.Flags().StringVar(&name, "name", "", "node name (overrides config)")
	cmd.Flags().IntVar(&tcpPort, "tcp-port", 0, "HTTP/WebSocket listen port (overrides config)")
	cmd.Flags().IntVar(&udpPort, "udp-port", 0, "UDP listen port (overrides config)")
	cmd.Flags().StringVar(&rootDir, "mirror-dir", "", "optional directory to mirror into the tree")
	cmd.Flags().BoolVar(&publish, "publish", true, "advertise this node over DNS-SD")

	return cmd
}

func runServe(node config.Node, ext config.Extensions, publish bool) error {
	t := tree.New()
	tree.SetSingleton(t)

	udpAddr := &net.UDPAddr{Port: node.Udp_Port}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("binding udp socket: %w", err)
	}
	defer udpConn.Close()

	info := protocol.HostInfo{
		Name:         node.Name,
		OscPort:      node.Udp_Port,
		OscTransport: "UDP",
		Extensions:   ext.ToMap(),
	}
	server := protocol.NewServer(t, info, udpConn)

	if node.Root_Dir != "" {
		if err := server.MountDirectory("/files", node.Root_Dir); err != nil {
			logrus.WithError(err).Warn("failed to mount directory")
		}
	}

	if publish {
		port, err := discovery.New().Publish(node.Name, node.Tcp_Port)
		if err != nil {
			logrus.WithError(err).Warn("discovery publish failed, continuing unpublished")
		} else {
			defer port()
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			server.HandleWebSocket(w, r)
			return
		}
		server.ServeHTTP(w, r)
	})

	addr := fmt.Sprintf(":%d", node.Tcp_Port)
	logrus.WithFields(logrus.Fields{"addr": addr, "name": node.Name}).Info("oscqueryd listening")
	return http.ListenAndServe(addr, mux)
}
