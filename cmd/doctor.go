package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and device reachability",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("kvmagent doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid:\n%s\n", err)
	}

	fmt.Println()
	fmt.Println("  Model:")
	fmt.Printf("    %-12s %s/%s\n", "model:", cfg.Model.Provider, cfg.Model.Name)
	if cfg.Model.APIKey != "" {
		fmt.Printf("    %-12s %s\n", "api key:", config.MaskSecret(cfg.Model.APIKey))
	} else {
		fmt.Printf("    %-12s (not configured)\n", "api key:")
	}

	fmt.Println()
	fmt.Println("  Device:")
	fmt.Printf("    %-12s %s\n", "url:", orNone(cfg.KVM.URL))
	fmt.Printf("    %-12s %dx%d\n", "display:", cfg.Display.Width, cfg.Display.Height)
	if cfg.KVM.URL != "" {
		checkTCP(cfg.KVM.URL)
		checkHTTP("stream:", config.NormalizeKVMURL(cfg.KVM.URL)+cfg.KVM.StreamPath)
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	addr := gatewayDialAddr(cfg)
	if isGatewayRunning(addr) {
		fmt.Printf("    %-12s running at %s\n", "status:", addr)
	} else {
		fmt.Printf("    %-12s not running (%s)\n", "status:", addr)
	}
	if cfg.Gateway.Token == "" {
		fmt.Printf("    %-12s none (API open on %s)\n", "token:", cfg.Gateway.Host)
	} else {
		fmt.Printf("    %-12s %s\n", "token:", config.MaskSecret(cfg.Gateway.Token))
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func orNone(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}

func checkTCP(raw string) {
	u, err := url.Parse(config.NormalizeKVMURL(raw))
	if err != nil {
		fmt.Printf("    %-12s invalid url: %v\n", "reachable:", err)
		return
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" || u.Scheme == "wss" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	start := time.Now()
	conn, err := net.DialTimeout("tcp", host, 3*time.Second)
	if err != nil {
		fmt.Printf("    %-12s NO (%v)\n", "reachable:", err)
		return
	}
	conn.Close()
	fmt.Printf("    %-12s yes (%s)\n", "reachable:", time.Since(start).Round(time.Millisecond))
}

func checkHTTP(label, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		fmt.Printf("    %-12s %v\n", label, err)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("    %-12s NO (%v)\n", label, err)
		return
	}
	resp.Body.Close()
	fmt.Printf("    %-12s %s (%s)\n", label, resp.Status, resp.Header.Get("Content-Type"))
}
