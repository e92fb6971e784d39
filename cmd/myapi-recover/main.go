// Manual recovery tool. Runs the SSO login in a visible browser so the
// operator can approve MFA themselves, then pushes the captured token to
// the running service to clear its pause gate.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/common"
	"github.com/hereiam510/MyAPI/internal/services/automator"
)

type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	proxyURL    = flag.String("proxy", "", "Base URL of the running service (default from config server host/port)")
	noPush      = flag.Bool("no-push", false, "Capture the token but do not push it to the service")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if len(configFiles) == 0 {
		if _, err := os.Stat("myapi.toml"); err == nil {
			configFiles = append(configFiles, "myapi.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	if err := config.Validate(); err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)

	logger.Info().Msg("Starting manual recovery")
	logger.Warn().Msg("Stop or pause the service's unattended refresher before continuing: the browser profile cannot be shared")
	logger.Info().Msg("A browser window will open; complete the login and approve MFA on your device")

	// Interactive acquisition: visible browser, no email notifications,
	// no deadline on the MFA approval.
	acquirer := automator.NewService(config, nil, logger)
	token, err := acquirer.AcquireToken(context.Background(), true)
	if err != nil {
		logger.Fatal().Err(err).Msg("Token acquisition failed")
		os.Exit(1)
	}
	if token == "" {
		logger.Fatal().Msg("Login completed but no token was captured")
		os.Exit(1)
	}

	logger.Info().Int("token_length", len(token)).Msg("Token captured")

	if *noPush {
		fmt.Println(token)
		return
	}

	target := *proxyURL
	if target == "" {
		target = fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	}

	if err := pushToken(target, config.Admin.APIKey, token); err != nil {
		logger.Fatal().Err(err).Str("proxy", target).Msg("Failed to push token to service")
		os.Exit(1)
	}

	logger.Info().Str("proxy", target).Msg("Token pushed, automatic refresh resumes")
}

// pushToken POSTs the captured token to the service's admin endpoint.
func pushToken(baseURL, apiKey, token string) error {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/update-token", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service responded with status %d", resp.StatusCode)
	}
	return nil
}
