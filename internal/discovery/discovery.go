// Package discovery advertises HelpHub over mDNS so LAN clients can
// find it without a pre-shared address, and logs every reachable LAN
// address as an operator-facing fallback.
//
// No repo in the retrieval pack embeds an mDNS library, so
// github.com/hashicorp/mdns is named rather than grounded on an
// existing usage; it is the standard, actively used Go mDNS/DNS-SD
// implementation.
package discovery

import (
	"net"
	"os"
	"strconv"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

const serviceType = "_helphub._tcp"

// Advertiser owns the mDNS responder's lifecycle.
type Advertiser struct {
	server *mdns.Server
	logger zerolog.Logger
}

// Start registers serviceName under _helphub._tcp advertising port.
// Failure to start is logged as a warning, not returned as fatal — the
// server continues without LAN discovery.
func Start(serviceName string, port int, logger zerolog.Logger) *Advertiser {
	logger = logger.With().Str("component", "discovery").Logger()

	host, err := os.Hostname()
	if err != nil {
		host = serviceName
	}

	service, err := mdns.NewMDNSService(serviceName, serviceType, "", host+".", port, nil, []string{"helphub relay"})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to build mdns service, continuing without LAN discovery")
		return &Advertiser{logger: logger}
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to start mdns responder, continuing without LAN discovery")
		return &Advertiser{logger: logger}
	}

	logger.Info().Str("service", serviceName+"."+serviceType).Int("port", port).Msg("advertising over mDNS")
	return &Advertiser{server: server, logger: logger}
}

// Stop unregisters the mDNS service on clean shutdown, if it started.
func (a *Advertiser) Stop() {
	if a.server == nil {
		return
	}
	if err := a.server.Shutdown(); err != nil {
		a.logger.Warn().Err(err).Msg("error shutting down mdns responder")
	}
}

// LogLANAddresses walks the host's network interfaces and logs every
// non-loopback RFC 1918 IPv4 address alongside port, so operators can
// announce a fallback address when mDNS is unavailable.
func LogLANAddresses(port int, logger zerolog.Logger) {
	logger = logger.With().Str("component", "discovery").Logger()

	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to enumerate network interfaces")
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || !isSiteLocal(ip4) {
				continue
			}
			logger.Info().
				Str("interface", iface.Name).
				Str("address", ip4.String()+":"+strconv.Itoa(port)).
				Msg("reachable on LAN address")
		}
	}
}

// isSiteLocal reports whether ip falls within an RFC 1918 private range.
func isSiteLocal(ip net.IP) bool {
	return ip[0] == 10 ||
		(ip[0] == 172 && ip[1] >= 16 && ip[1] <= 31) ||
		(ip[0] == 192 && ip[1] == 168)
}
