package session

import (
	"context"
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

// newVNetAPI builds a WebRTC stack bound to a virtual network, so media
// negotiation runs without touching real interfaces.
func newVNetAPI(t *testing.T, router *vnet.Router, ip string) *webrtc.API {
	t.Helper()

	nw, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
	if err != nil {
		t.Fatalf("new net %s: %v", ip, err)
	}
	if err := router.AddNet(nw); err != nil {
		t.Fatalf("add net %s: %v", ip, err)
	}

	se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory(discardLogger())}
	se.SetNet(nw)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func TestMediaLinkOverVirtualNetwork(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	wsURL := startRelayServer(t)
	ctx := context.Background()

	alice, err := Join(ctx, Config{
		ServerURL: wsURL, RoomID: "room", DisplayName: "Alice",
		Logger: discardLogger(), API: newVNetAPI(t, router, "10.0.0.1"),
	})
	if err != nil {
		t.Fatalf("alice join: %v", err)
	}
	t.Cleanup(alice.Leave)
	waitFor(t, func() bool { return alice.SelfID() != "" }, "alice init")

	bob, err := Join(ctx, Config{
		ServerURL: wsURL, RoomID: "room", DisplayName: "Bob",
		Logger: discardLogger(), API: newVNetAPI(t, router, "10.0.0.2"),
	})
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	t.Cleanup(bob.Leave)
	waitFor(t, func() bool { return len(bob.State().Peers) == 1 }, "bob sees alice")

	aliceID := bob.State().HostID

	// Signaling runs over loopback; the media link itself must come up
	// across the virtual router.
	waitFor(t, func() bool {
		bob.mu.Lock()
		link, ok := bob.peers[aliceID]
		bob.mu.Unlock()
		return ok && link.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
	}, "bob's media link to alice")

	waitFor(t, func() bool {
		alice.mu.Lock()
		defer alice.mu.Unlock()
		for _, link := range alice.peers {
			if link.pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
				return true
			}
		}
		return false
	}, "alice's media link to bob")
}

func TestPeerRemovalOnDisconnectOverVirtualNetwork(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	wsURL := startRelayServer(t)
	ctx := context.Background()

	alice, err := Join(ctx, Config{
		ServerURL: wsURL, RoomID: "room", Logger: discardLogger(),
		API: newVNetAPI(t, router, "10.0.0.1"),
	})
	if err != nil {
		t.Fatalf("alice join: %v", err)
	}
	t.Cleanup(alice.Leave)
	waitFor(t, func() bool { return alice.SelfID() != "" }, "alice init")

	bob, err := Join(ctx, Config{
		ServerURL: wsURL, RoomID: "room", Logger: discardLogger(),
		API: newVNetAPI(t, router, "10.0.0.2"),
	})
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	waitFor(t, func() bool { return len(alice.State().Peers) == 1 }, "alice sees bob")

	bob.Leave()

	// user-disconnected tears the link down even if pion's own state
	// callback has not fired yet; both paths converge on removePeer.
	waitFor(t, func() bool {
		alice.mu.Lock()
		defer alice.mu.Unlock()
		return len(alice.peers) == 0
	}, "alice drops the media link")
	waitFor(t, func() bool { return len(alice.State().Peers) == 0 }, "alice's roster empties")
}
