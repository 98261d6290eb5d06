// Package discovery advertises and browses OSCQuery nodes over DNS-SD,
// grounded on original_source/source/oscquery/client.cpp's QZeroConf
// usage (m_zconf.startBrowser("_oscjson._tcp")) and implemented with
// github.com/grandcat/zeroconf, the mDNS library represented across the
// retrieved example pool.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

// retryInterval matches spec.md §4.5's failure semantics: "Discovery
// failure: retry every 5 s (clients only)." A var, not a const, so tests
// can shrink it instead of waiting out the real interval.
var retryInterval = 5 * time.Second

// ServiceType is the DNS-SD service type OSCQuery nodes advertise under.
const ServiceType = "_oscjson._tcp"

// Service describes one discovered peer.
type Service struct {
	Name string
	Host string
	Port int
}

// Port is the discovery surface a node depends on: publish its own
// presence, and browse for peers. Kept as an interface so the protocol
// and cmd packages don't need to import zeroconf directly.
type Port interface {
	Publish(name string, port int) (func(), error)
	Browse(ctx context.Context, targetName string) (<-chan Service, error)
}

// zeroconfPort is the zeroconf-backed Port implementation.
type zeroconfPort struct{}

// New returns the zeroconf-backed discovery port.
func New() Port { return zeroconfPort{} }

// Publish registers name on the local network as an OSCQuery service on
// port, returning a shutdown func.
func (zeroconfPort) Publish(name string, port int) (func(), error) {
	server, err := zeroconf.Register(name, ServiceType, "local.", port, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: publish failed: %w", err)
	}
	return server.Shutdown, nil
}

// Browse streams every OSCQuery service found on the network whose
// instance name matches targetName, until ctx is cancelled. An empty
// targetName matches every service (spec.md's discovery is
// client-initiated and, per original_source, filters by configured
// service name).
func (zeroconfPort) Browse(ctx context.Context, targetName string) (<-chan Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver init failed: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	out := make(chan Service)

	go func() {
		defer close(out)
		for entry := range entries {
			if targetName != "" && entry.Instance != targetName {
				continue
			}
			host := entry.HostName
			if len(entry.AddrIPv4) > 0 {
				host = entry.AddrIPv4[0].String()
			}
			select {
			case out <- Service{Name: entry.Instance, Host: host, Port: entry.Port}:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery: browse failed: %w", err)
	}
	return out, nil
}

// FindOnce blocks until a service named targetName is found or ctx is
// cancelled, retrying the browse every 5s on failure.
func FindOnce(ctx context.Context, p Port, targetName string) (Service, error) {
	for {
		results, err := p.Browse(ctx, targetName)
		if err != nil {
			logrus.WithError(err).WithField("retry_in", retryInterval).Warn("discovery browse failed")
			select {
			case <-time.After(retryInterval):
				continue
			case <-ctx.Done():
				return Service{}, ctx.Err()
			}
		}
		select {
		case svc, ok := <-results:
			if !ok {
				select {
				case <-time.After(retryInterval):
					continue
				case <-ctx.Done():
					return Service{}, ctx.Err()
				}
			}
			return svc, nil
		case <-ctx.Done():
			return Service{}, ctx.Err()
		}
	}
}
