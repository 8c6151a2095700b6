// Command rpcd serves JSON-RPC 2.0 methods over HTTP and WebSocket.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mnehpets/rpcdispatch/config"
	"github.com/mnehpets/rpcdispatch/jsonrpc"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(app.ErrWriter, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "rpcd",
		Usage:     "JSON-RPC 2.0 dispatcher",
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the RPC server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "path to a YAML config file",
						EnvVars: []string{config.EnvPrefix + "CONFIG"},
					},
					&cli.StringFlag{
						Name:  "env-file",
						Usage: "file with RPCD_* variables, skipped when missing",
						Value: ".env",
					},
					&cli.BoolFlag{
						Name:    "debug",
						Aliases: []string{"d"},
						Usage:   "enable debug logging",
					},
				},
				Action: serveAction,
			},
			{
				Name:   "methods",
				Usage:  "list the served methods",
				Action: methodsAction,
			},
			{
				Name:  "request",
				Usage: "build a request and optionally send it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "method",
						Aliases:  []string{"m"},
						Usage:    "method name",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "params",
						Aliases: []string{"p"},
						Usage:   "params as a JSON array or object",
					},
					&cli.BoolFlag{
						Name:  "notify",
						Usage: "build a notification, which has no id",
					},
					&cli.StringFlag{
						Name:  "url",
						Usage: "POST the request to this URL and print the response",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "request timeout when sending",
						Value: 10 * time.Second,
					},
				},
				Action: requestAction,
			},
		},
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	log, err := newLogger(cfg.Logging, c.Bool("debug"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer func() { _ = log.Sync() }()

	srv, err := newServer(cfg, log, newRegistry())
	if err != nil {
		return cli.Exit(err, 1)
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.run(ctx); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func methodsAction(c *cli.Context) error {
	for _, m := range demoMethods() {
		fmt.Fprintf(c.App.Writer, "%s(%s)\n", m.Name, strings.Join(m.Params, ", "))
	}
	return nil
}

func requestAction(c *cli.Context) error {
	var params any
	if p := c.String("params"); p != "" {
		dec := json.NewDecoder(strings.NewReader(p))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil {
			return cli.Exit(fmt.Errorf("params: %w", err), 1)
		}
		switch params.(type) {
		case []any, map[string]any:
		default:
			return cli.Exit("params must be a JSON array or object", 1)
		}
	}

	var req *jsonrpc.Request
	if c.Bool("notify") {
		req = jsonrpc.MakeNotification(c.String("method"), params)
	} else {
		req = jsonrpc.MakeRequest(c.String("method"), params)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return cli.Exit(err, 1)
	}

	url := c.String("url")
	if url == "" {
		fmt.Fprintln(c.App.Writer, string(body))
		return nil
	}
	resp, err := send(c.Context, url, body, c.Duration("timeout"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	if len(resp) > 0 {
		fmt.Fprintln(c.App.Writer, string(resp))
	}
	return nil
}

// send POSTs a JSON request body and returns the response body, which is
// empty for notifications.
func send(ctx context.Context, url string, body []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return data, nil
	}
	return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
}
