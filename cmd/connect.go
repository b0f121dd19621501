package cmd

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vidfetch/vidfetch/internal/config"
	"github.com/vidfetch/vidfetch/internal/core"
)

var connectCmd = &cobra.Command{
	Use:   "connect [host:port]",
	Short: "Open the dashboard against a running VidFetch daemon",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			globalHost = args[0]
		}

		insecureHTTP, _ := cmd.Flags().GetBool("insecure-http")
		baseURL, token, err := resolveAPIConnection()
		if err != nil {
			return err
		}
		if target := resolveHostTarget(); target != "" {
			if baseURL, err = resolveConnectBaseURL(target, insecureHTTP); err != nil {
				return err
			}
		}

		fmt.Printf("Connecting to %s...\n", baseURL)
		service := core.NewRemoteDownloadService(baseURL, token)
		defer func() { _ = service.Shutdown() }()

		// Verify connection
		if _, err := service.List(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		settings, err := config.Load()
		if err != nil {
			settings = config.DefaultSettings()
		}
		return runTUI(cmd.Context(), service, settings)
	},
}

func init() {
	connectCmd.Flags().Bool("insecure-http", false, "Allow plain HTTP for non-loopback targets")
	rootCmd.AddCommand(connectCmd)
}

func resolveConnectBaseURL(target string, allowInsecureHTTP bool) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid target: %v", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported scheme %q (use http or https)", u.Scheme)
		}
		if u.Host == "" {
			return "", fmt.Errorf("invalid target: missing host")
		}
		if u.Scheme == "http" && !allowInsecureHTTP && !isLoopbackHost(u.Hostname()) {
			return "", fmt.Errorf("refusing insecure HTTP for non-loopback target. Use https:// or --insecure-http")
		}
		return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
	}

	scheme := "https"
	if isLoopbackHost(hostnameFromTarget(target)) || allowInsecureHTTP {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, target), nil
}

func hostnameFromTarget(target string) string {
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return strings.Trim(target, "[]")
	}
	return host
}

func isLoopbackHost(host string) bool {
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
