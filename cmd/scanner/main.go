// Command scanner drives a verification station from a line-delimited frame
// source: a USB QR reader in keyboard-wedge mode or manual stdin entry. Each
// decoded frame is posted to the server's scan endpoint as the authenticated
// operator, and the decision is printed for confirmation.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sungwoon-dev/mealpass/internal/app"
	"github.com/sungwoon-dev/mealpass/internal/scanner"
	"github.com/sungwoon-dev/mealpass/pkg/logger"
)

const scanRequestTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, frames io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("mealpass-scanner", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		configPath string
		serverURL  string
		token      string
	)
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")
	fs.StringVar(&serverURL, "server", "", "Base URL of the mealpass server (default from server.port)")
	fs.StringVar(&token, "token", "", "Operator access token")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	token = strings.TrimSpace(token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("MEALPASS_SCANNER_TOKEN"))
	}
	if token == "" {
		return errors.New("an operator token is required (-token or MEALPASS_SCANNER_TOKEN)")
	}

	if serverURL == "" {
		serverURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	serverURL = strings.TrimRight(serverURL, "/")

	log := logger.WithModule("scanner.station")
	poster := &scanPoster{
		client:   &http.Client{Timeout: scanRequestTimeout},
		endpoint: serverURL + "/api/scan",
		token:    token,
		out:      out,
		log:      log,
	}

	session, err := scanner.NewSession(
		scanner.NewReaderSource(frames),
		poster.process,
		cfg.Scanner.SessionOptions()...,
	)
	if err != nil {
		return fmt.Errorf("build scan session: %w", err)
	}

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start scan session: %w", err)
	}
	log.Info("scan session running", zap.String("server", serverURL))

	select {
	case <-ctx.Done():
		session.Stop()
		<-session.Done()
	case <-session.Done():
	}

	if err := session.Err(); err != nil {
		if errors.Is(err, scanner.ErrDateRollover) {
			log.Info("scan session ended at midnight rollover")
			return nil
		}
		return fmt.Errorf("scan session: %w", err)
	}

	log.Info("scan session stopped")
	return nil
}

// scanPoster submits one decoded frame per call and prints the outcome. The
// session already serialises calls and enforces the cooldown.
type scanPoster struct {
	client   *http.Client
	endpoint string
	token    string
	out      io.Writer
	log      *zap.Logger
}

type scanDecision struct {
	Name      string `json:"name"`
	ClassInfo string `json:"class_info"`
	Date      string `json:"date"`
}

type scanResponse struct {
	Success bool          `json:"success"`
	Data    *scanDecision `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *scanPoster) process(ctx context.Context, frame []byte) {
	body, err := json.Marshal(map[string]string{"payload": string(frame)})
	if err != nil {
		p.log.Error("encode scan request", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		p.log.Error("build scan request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Error("submit scan", zap.Error(err))
		fmt.Fprintln(p.out, "NETWORK ERROR - ticket not redeemed, try again")
		return
	}
	defer resp.Body.Close()

	var decoded scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		p.log.Error("decode scan response", zap.Int("status", resp.StatusCode), zap.Error(err))
		fmt.Fprintln(p.out, "SERVER ERROR - ticket not redeemed, try again")
		return
	}

	if decoded.Success && decoded.Data != nil {
		fmt.Fprintf(p.out, "OK  %s (%s) %s\n", decoded.Data.Name, decoded.Data.ClassInfo, decoded.Data.Date)
		return
	}

	code, message := "unknown_error", "scan rejected"
	if decoded.Error != nil {
		code, message = decoded.Error.Code, decoded.Error.Message
	}
	fmt.Fprintf(p.out, "REJECTED [%s] %s\n", code, message)
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
